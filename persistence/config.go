package persistence

import (
	"fmt"
	"os"
	"strings"

	"github.com/lambdamap/lambdamap/constants"
)

// Config - resolved map configuration. Each setting is resolved once
// at construction with precedence environment override > constructor
// argument > default, then never changes for the lifetime of the map.
type Config struct {
	// TableName - the table holding all persisted maps
	TableName string
	// TableKey - the record identity, one per map instance. Defaults
	// to the name of the running Lambda function.
	TableKey string
	// KeyFieldName - name of the table's hash key attribute
	KeyFieldName string
	// ValueFieldName - name of the attribute holding the encoded
	// map contents
	ValueFieldName string
}

// configOptions - the recognized configuration option names. Any
// other argument key is treated as map content.
var configOptions = map[string]bool{
	constants.OptionTableName:      true,
	constants.OptionTableKey:       true,
	constants.OptionKeyFieldName:   true,
	constants.OptionValueFieldName: true,
}

func resolveConfig(kwargs Args) (Config, error) {
	cfg := Config{
		TableName:      constants.DefaultTableName,
		TableKey:       os.Getenv(constants.EnvLambdaFunctionName),
		KeyFieldName:   constants.DefaultKeyFieldName,
		ValueFieldName: constants.DefaultValueFieldName,
	}

	fields := map[string]*string{
		constants.OptionTableName:      &cfg.TableName,
		constants.OptionTableKey:       &cfg.TableKey,
		constants.OptionKeyFieldName:   &cfg.KeyFieldName,
		constants.OptionValueFieldName: &cfg.ValueFieldName,
	}

	for option, field := range fields {
		if raw, ok := kwargs[option]; ok {
			val, ok := raw.(string)
			if !ok {
				return Config{}, fmt.Errorf("configuration option %q must be a string, got %T", option, raw)
			}
			*field = val
		}
		// environment overrides always win
		if env := os.Getenv(envName(option)); env != "" {
			*field = env
		}
	}

	return cfg, nil
}

// envName returns the environment variable overriding a
// configuration option, e.g. table_name -> PERSISTENCE_TABLE_NAME
func envName(option string) string {
	return constants.EnvPrefix + strings.ToUpper(option)
}
