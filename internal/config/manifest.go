// Package config loads the issuance engine's class manifest: the fixed
// table of (class_tag, authorized_shares) pairs spec §3 requires be
// configured once at startup and held fixed for the engine's lifetime.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/aconrad/pulley-interview/internal/engine"
)

// manifestEntry is one row of the class manifest file, as viper/mapstructure
// unmarshals it. The file may be YAML, JSON, or TOML; viper infers the
// format from the extension.
type manifestEntry struct {
	Tag        string `mapstructure:"class_tag"`
	Authorized uint64 `mapstructure:"authorized_shares"`
}

// LoadClassManifest reads the class manifest at |path| and returns the
// engine.ClassConfig slice it describes. The file is expected to have a
// top-level "classes" list, e.g.:
//
//	classes:
//	  - class_tag: CS
//	    authorized_shares: 100000
//	  - class_tag: PS
//	    authorized_shares: 25000
func LoadClassManifest(path string) ([]engine.ClassConfig, error) {
	var v = viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithMessage(err, "reading class manifest")
	}

	var entries []manifestEntry
	if err := v.UnmarshalKey("classes", &entries); err != nil {
		return nil, errors.WithMessage(err, "parsing class manifest")
	}
	if len(entries) == 0 {
		return nil, errors.New("class manifest declares no classes")
	}

	var seen = make(map[string]bool, len(entries))
	var configs = make([]engine.ClassConfig, 0, len(entries))
	for _, e := range entries {
		if e.Tag == "" {
			return nil, errors.New("class manifest entry missing class_tag")
		}
		if seen[e.Tag] {
			return nil, errors.Errorf("class manifest declares %q more than once", e.Tag)
		}
		seen[e.Tag] = true
		configs = append(configs, engine.ClassConfig{Tag: e.Tag, Authorized: e.Authorized})
	}

	return configs, nil
}
