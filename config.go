package klstore

import (
	"flag"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, following the nested RegisterFlagsAndApplyDefaults
// convention used throughout cmd/tempo/app/config.go: each subsystem owns its own Config
// type and flag prefix, and the top-level Config just wires them together.
type Config struct {
	ObjectPrefix string       `yaml:"object_prefix"`
	Writer       WriterConfig `yaml:"writer"`
	Reader       ReaderConfig `yaml:"reader"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.ObjectPrefix, prefix+".object-prefix", "", "prefix prepended to every object name, shared by the writer and reader")
	c.Writer.RegisterFlagsAndApplyDefaults(prefix+".writer", f)
	c.Reader.RegisterFlagsAndApplyDefaults(prefix+".reader", f)
}

// KeyspaceMetadata is the body of a keyspace's marker object (§4.1/§6): its sole purpose is
// to make create_keyspace observable via put_if_absent (a second create of the same keyspace
// fails with ErrKeyspaceExists), never read back for anything beyond existence.
type KeyspaceMetadata struct {
	CreatedAtMillis int64  `yaml:"created_at_millis"`
	Version         uint16 `yaml:"version"`
}

func keyspaceMarkerName(objectPrefix, keyspace string) string {
	return objectPrefix + encodeSegment(keyspace) + "/_keyspace"
}

func encodeKeyspaceMetadata(m KeyspaceMetadata) ([]byte, error) {
	body, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal keyspace metadata: %w", err)
	}
	return body, nil
}

func decodeKeyspaceMetadata(body []byte) (KeyspaceMetadata, error) {
	var m KeyspaceMetadata
	if err := yaml.Unmarshal(body, &m); err != nil {
		return KeyspaceMetadata{}, fmt.Errorf("unmarshal keyspace metadata: %w", err)
	}
	return m, nil
}
