package redis

import "fmt"

// rosterKey returns the key holding the JSON-encoded roster record
func (s *Storage) rosterKey() string {
	return fmt.Sprintf("%s:roster", s.config.Prefix)
}

// changesChannel returns the pub/sub channel announcing committed versions
func (s *Storage) changesChannel() string {
	return fmt.Sprintf("%s:changes", s.config.Prefix)
}
