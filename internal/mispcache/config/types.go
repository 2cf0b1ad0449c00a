package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// typesFile is the on-disk shape of a standalone allowlist file:
//
//	ioc_types:
//	  - ip-dst
//	  - md5
type typesFile struct {
	IOCTypes []string `yaml:"ioc_types"`
}

// LoadTypesFile reads an attribute-type allowlist from a YAML file.
// An empty list is rejected: extraction with no allowlist would either
// match nothing or, worse, everything, depending on how the IN-clause is
// built, so it is treated as a configuration error.
func LoadTypesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var tf typesFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(tf.IOCTypes) == 0 {
		return nil, fmt.Errorf("types file %s contains no ioc_types", path)
	}
	return tf.IOCTypes, nil
}
