package roster

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
)

// Registry owns the ordered player roster and the team entities.
//
// A Registry is not safe for concurrent use; callers serialize access.
// Every mutating method increments the version.
type Registry struct {
	players []Player
	index   map[PlayerID]int
	names   map[string]PlayerID
	teams   map[TeamKey]TeamEntity

	version uint64
	nextSeq uint64

	clock   clock.Clock
	newID   func() PlayerID
	maxName int
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithIDGenerator(f func() PlayerID) Option {
	return func(r *Registry) {
		r.newID = f
	}
}

func WithMaxNameLength(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxName = n
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		index:   make(map[PlayerID]int),
		names:   make(map[string]PlayerID),
		teams:   make(map[TeamKey]TeamEntity),
		nextSeq: 1,
		clock:   clock.New(),
		newID:   func() PlayerID { return PlayerID(uuid.NewString()) },
		maxName: DefaultMaxNameLength,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// FromRecord rebuilds a Registry from its persisted form.
func FromRecord(rec Record, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	r.version = rec.Version
	if rec.NextSeq > r.nextSeq {
		r.nextSeq = rec.NextSeq
	}

	for _, p := range rec.Players {
		if _, ok := r.index[p.ID]; ok {
			return nil, fmt.Errorf("record holds player %s twice", p.ID)
		}
		key := foldName(p.Name)
		if _, ok := r.names[key]; ok {
			return nil, fmt.Errorf("record holds name %q twice", p.Name)
		}
		if !p.Team.Valid() {
			return nil, fmt.Errorf("record holds player %s on invalid team %d", p.ID, p.Team)
		}
		r.index[p.ID] = len(r.players)
		r.names[key] = p.ID
		r.players = append(r.players, p)
		if p.Seq >= r.nextSeq {
			r.nextSeq = p.Seq + 1
		}
	}

	for _, t := range rec.Teams {
		if !t.Key.IsAssigned() || !t.Key.Valid() {
			return nil, fmt.Errorf("record holds invalid team %d", t.Key)
		}
		r.teams[t.Key] = t
	}

	return r, nil
}

// Record returns the persisted form of the registry.
func (r *Registry) Record() Record {
	return Record{
		Version: r.version,
		NextSeq: r.nextSeq,
		Players: r.List(),
		Teams:   r.entities(),
	}
}

// Clone returns an independent copy sharing the clock and id generator.
func (r *Registry) Clone() *Registry {
	return &Registry{
		players: slices.Clone(r.players),
		index:   maps.Clone(r.index),
		names:   maps.Clone(r.names),
		teams:   maps.Clone(r.teams),
		version: r.version,
		nextSeq: r.nextSeq,
		clock:   r.clock,
		newID:   r.newID,
		maxName: r.maxName,
	}
}

func (r *Registry) touch() {
	r.version++
}

func (r *Registry) Version() uint64 {
	return r.version
}

func (r *Registry) Len() int {
	return len(r.players)
}

// Register validates name and appends a new, unassigned player.
func (r *Registry) Register(name string) (Player, error) {
	name, err := cleanName("name", name, r.maxName)
	if err != nil {
		return Player{}, err
	}

	key := foldName(name)
	if _, ok := r.names[key]; ok {
		return Player{}, ErrDuplicateName
	}

	id := r.newID()
	for {
		if _, taken := r.index[id]; !taken {
			break
		}
		id = r.newID()
	}

	p := Player{
		ID:       id,
		Name:     name,
		Team:     Unassigned,
		JoinedAt: r.clock.Now(),
		Seq:      r.nextSeq,
	}
	r.nextSeq++

	r.index[p.ID] = len(r.players)
	r.names[key] = p.ID
	r.players = append(r.players, p)
	r.touch()

	return p, nil
}

// Remove deletes a single player.
func (r *Registry) Remove(id PlayerID) error {
	i, ok := r.index[id]
	if !ok {
		return ErrPlayerNotFound
	}

	delete(r.names, foldName(r.players[i].Name))
	r.players = slices.Delete(r.players, i, i+1)
	r.reindex()
	r.touch()

	return nil
}

// Reset clears every player and team.
func (r *Registry) Reset() {
	r.players = nil
	clear(r.index)
	clear(r.names)
	clear(r.teams)
	r.touch()
}

func (r *Registry) reindex() {
	clear(r.index)
	for i, p := range r.players {
		r.index[p.ID] = i
	}
}

func (r *Registry) Lookup(id PlayerID) (Player, bool) {
	i, ok := r.index[id]
	if !ok {
		return Player{}, false
	}
	return r.players[i], true
}

// List returns the players in join order.
func (r *Registry) List() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

// All iterates over a snapshot of the players taken when All is called.
func (r *Registry) All() iter.Seq[Player] {
	snapshot := r.List()
	return func(yield func(Player) bool) {
		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}

// SetTeam changes the team of one player.
func (r *Registry) SetTeam(id PlayerID, key TeamKey) error {
	if !key.Valid() {
		return invalidTeam(key)
	}

	i, ok := r.index[id]
	if !ok {
		return ErrPlayerNotFound
	}

	r.players[i].Team = key
	r.touch()

	return nil
}

func (r *Registry) entities() []TeamEntity {
	out := slices.Collect(maps.Values(r.teams))
	slices.SortFunc(out, func(a, b TeamEntity) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func (r *Registry) maxKey() TeamKey {
	var highest TeamKey
	for k := range r.teams {
		highest = max(highest, k)
	}
	for _, p := range r.players {
		highest = max(highest, p.Team)
	}
	return highest
}

func (r *Registry) teamExists(key TeamKey) bool {
	if !key.IsAssigned() {
		return false
	}
	if _, ok := r.teams[key]; ok {
		return true
	}
	for _, p := range r.players {
		if p.Team == key {
			return true
		}
	}
	return false
}

// CreateTeam adds an empty team after the highest key in use. A blank name
// generates "Team <key>".
func (r *Registry) CreateTeam(name string) (TeamEntity, error) {
	highest := r.maxKey()
	if highest >= MaxTeamKey {
		return TeamEntity{}, &ValidationError{Field: "team", Message: fmt.Sprintf("no team key left above %d", highest)}
	}
	key := highest + 1

	if name == "" {
		name = DefaultTeamName(key)
	} else {
		var err error
		if name, err = cleanName("name", name, r.maxName); err != nil {
			return TeamEntity{}, err
		}
	}

	t := TeamEntity{Key: key, Name: name, CreatedAt: r.clock.Now()}
	r.teams[key] = t
	r.touch()

	return t, nil
}

// RenameTeam names an existing team, promoting an implicit team to an
// entity.
func (r *Registry) RenameTeam(key TeamKey, name string) (TeamEntity, error) {
	if !r.teamExists(key) {
		return TeamEntity{}, ErrTeamNotFound
	}

	name, err := cleanName("name", name, r.maxName)
	if err != nil {
		return TeamEntity{}, err
	}

	t, ok := r.teams[key]
	if !ok {
		t = TeamEntity{Key: key, CreatedAt: r.clock.Now()}
	}
	t.Name = name
	r.teams[key] = t
	r.touch()

	return t, nil
}

// DeleteTeam removes a team. Its members become unassigned; players are
// never deleted.
func (r *Registry) DeleteTeam(key TeamKey) error {
	if !r.teamExists(key) {
		return ErrTeamNotFound
	}

	delete(r.teams, key)
	for i := range r.players {
		if r.players[i].Team == key {
			r.players[i].Team = Unassigned
		}
	}
	r.touch()

	return nil
}

// Teams materializes the current team views.
func (r *Registry) Teams() []Team {
	return Materialize(r.players, r.entities())
}

// Snapshot returns the full current state.
func (r *Registry) Snapshot() State {
	return State{
		Version: r.version,
		Players: r.List(),
		Teams:   r.Teams(),
	}
}
