package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/teamshuffle/internal/apiclient"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/watch"
)

// parseTeamKey accepts a positive team number, or 0/none/null for no team.
func parseTeamKey(s string) (roster.TeamKey, error) {
	switch strings.ToLower(s) {
	case "0", "none", "null", "-":
		return roster.Unassigned, nil
	}

	key, err := strconv.Atoi(s)
	if err != nil || key < 1 {
		return 0, fmt.Errorf("invalid team %q (must be a positive number or none)", s)
	}

	return roster.TeamKey(key), nil
}

// parseAssignments turns ID=TEAM arguments into an assignment.
func parseAssignments(args []string) (roster.Assignment, error) {
	mapping := make(roster.Assignment, len(args))

	for _, arg := range args {
		id, team, ok := strings.Cut(arg, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected ID=TEAM)", arg)
		}

		key, err := parseTeamKey(team)
		if err != nil {
			return nil, err
		}

		mapping[roster.PlayerID(id)] = key
	}

	return mapping, nil
}

func printTeams(w io.Writer, teams []roster.Team) {
	for _, t := range teams {
		fmt.Fprintf(w, "%s (#%d, %d players)\n", t.Name, t.Key, len(t.Players))
		for _, p := range t.Players {
			fmt.Fprintf(w, "  %s  %s\n", p.ID, p.Name)
		}
	}
}

func printState(w io.Writer, state roster.State) {
	fmt.Fprintf(w, "version %d, %d players\n", state.Version, len(state.Players))

	printTeams(w, state.Teams)

	unassigned := 0
	for _, p := range state.Players {
		if p.Team.IsAssigned() {
			continue
		}
		if unassigned == 0 {
			fmt.Fprintln(w, "Unassigned")
		}
		unassigned++
		fmt.Fprintf(w, "  %s  %s\n", p.ID, p.Name)
	}
}

func newClientCmds(cfg *Config, v *viper.Viper) []*cobra.Command {
	client := func() *apiclient.Client {
		return apiclient.New(cfg.server)
	}

	players := &cobra.Command{
		Use:   "players",
		Short: "Show every player and team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := client().Players(cmd.Context())
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state)
			return nil
		},
	}

	join := &cobra.Command{
		Use:   "join NAME",
		Short: "Register a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client().Join(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", p.ID, p.Name)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Remove(cmd.Context(), roster.PlayerID(args[0]))
		},
	}

	var size int
	shuffle := &cobra.Command{
		Use:   "shuffle",
		Short: "Randomly split every player into teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			teams, err := client().Shuffle(cmd.Context(), size)
			if err != nil {
				return err
			}
			printTeams(cmd.OutOrStdout(), teams)
			return nil
		},
	}
	shuffle.Flags().IntVarP(&size, "size", "n", 2, "players per team")

	assign := &cobra.Command{
		Use:   "assign ID=TEAM...",
		Short: "Assign players to teams by hand (TEAM none clears)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseAssignments(args)
			if err != nil {
				return err
			}

			res, err := client().Assign(cmd.Context(), mapping)
			if err != nil {
				return err
			}

			printTeams(cmd.OutOrStdout(), res.Teams)
			for _, f := range res.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %s\n", f.PlayerID, f.Message)
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d assignment(s) failed", len(res.Failures))
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Remove every player and team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Reset(cmd.Context())
		},
	}

	team := &cobra.Command{
		Use:   "team",
		Short: "Manage named teams",
	}
	team.AddCommand(
		&cobra.Command{
			Use:   "create [NAME]",
			Short: "Create an empty team",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				t, err := client().CreateTeam(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  %s\n", t.Key, t.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename TEAM NAME",
			Short: "Rename a team",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := parseTeamKey(args[0])
				if err != nil || !key.IsAssigned() {
					return fmt.Errorf("invalid team %q", args[0])
				}
				t, err := client().RenameTeam(cmd.Context(), key, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  %s\n", t.Key, t.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete TEAM",
			Short: "Delete a team; its players become unassigned",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := parseTeamKey(args[0])
				if err != nil || !key.IsAssigned() {
					return fmt.Errorf("invalid team %q", args[0])
				}
				return client().DeleteTeam(cmd.Context(), key)
			},
		},
	)

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the server's change feed status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %d, %d subscribers)\n", s.Status, s.Version, s.Subscribers)
			return nil
		},
	}

	link := &cobra.Command{
		Use:   "link",
		Short: "Print the join link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := client().JoinLink(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l.JoinURL)
			return nil
		},
	}

	return []*cobra.Command{players, join, remove, shuffle, assign, reset, team, status, link, newWatchCmd(cfg, v)}
}

func newWatchCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	policy := retry.DefaultPolicy()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the roster live; press enter to reconnect or resync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := policy.Validate(); err != nil {
				return err
			}

			w, err := watch.New(cfg.server, watch.Options{Retry: policy, Logger: log.Log})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					w.Reconnect()
				}
			}()

			go func() {
				_ = w.Run(ctx)
			}()

			return printEvents(cmd.OutOrStdout(), w.Events())
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalizeFlags)

	fs.IntVar(&policy.MaxAttempts, "retry-attempts", policy.MaxAttempts, "reconnect attempts before giving up (env: TEAMSHUFFLE_RETRY_ATTEMPTS)")
	fs.DurationVar(&policy.InitialDelay, "retry-delay", policy.InitialDelay, "initial reconnect delay (env: TEAMSHUFFLE_RETRY_DELAY)")
	fs.DurationVar(&policy.MaxDelay, "retry-max-delay", policy.MaxDelay, "maximum reconnect delay (env: TEAMSHUFFLE_RETRY_MAX_DELAY)")

	bindEnv(v, fs)

	return cmd
}

func printEvents(w io.Writer, events <-chan watch.Event) error {
	for ev := range events {
		switch ev.Kind {
		case watch.KindState:
			fmt.Fprintln(w, "---")
			printState(w, ev.State)
		case watch.KindJoined:
			fmt.Fprintf(w, "+ %s joined\n", ev.Player.Name)
		case watch.KindServerStatus:
			fmt.Fprintf(w, "server: %s\n", ev.Status)
		case watch.KindConnection:
			fmt.Fprintf(w, "connection: %s\n", ev.Status)
			if ev.Status == watch.StatusDegraded {
				fmt.Fprintln(w, "press enter to reconnect")
			}
		}
	}

	return nil
}
