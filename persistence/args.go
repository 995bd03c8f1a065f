package persistence

import (
	"fmt"
	"sort"
	"strings"
)

// Args is the keyword style argument set accepted by the
// constructors. Keys matching recognized configuration option names
// configure the map, every other key becomes initial content.
// Passing both kinds in one set is ambiguous and rejected.
type Args map[string]interface{}

// MixedArgumentsError - returned when one argument set mixes
// configuration options with map content
type MixedArgumentsError struct {
	ConfigArgs  []string
	ContentArgs []string

	configText  string
	contentText string
	envText     string
}

func (e *MixedArgumentsError) Error() string {
	return fmt.Sprintf(
		"a mix of configuration arguments and map content arguments were passed, which isn't allowed.\n"+
			"Configuration arguments %s were passed and map content arguments %s were passed.\n"+
			"Either set the configuration with environment variables (e.g. export %s)\n"+
			"or initialize the content by calling Update:\n"+
			"\tm, err := persistence.New(st, serializer, persistence.Args{%s})\n"+
			"\terr = m.Update(%s)",
		strings.Join(e.ConfigArgs, ", "),
		strings.Join(e.ContentArgs, ", "),
		e.envText,
		e.configText,
		e.contentText,
	)
}

// checkMixedArgs classifies every argument by membership in the
// recognized configuration option set. No arguments, all
// configuration or all content is fine; a split set is rejected with
// enough detail to show the caller both unambiguous alternatives.
func checkMixedArgs(kwargs Args) error {
	var configArgs, contentArgs []string
	for name := range kwargs {
		if configOptions[name] {
			configArgs = append(configArgs, name)
		} else {
			contentArgs = append(contentArgs, name)
		}
	}
	if len(configArgs) == 0 || len(contentArgs) == 0 {
		return nil
	}
	sort.Strings(configArgs)
	sort.Strings(contentArgs)

	configParts := make([]string, 0, len(configArgs))
	envParts := make([]string, 0, len(configArgs))
	for _, name := range configArgs {
		configParts = append(configParts, fmt.Sprintf(`%q: "%v"`, name, kwargs[name]))
		envParts = append(envParts, fmt.Sprintf(`%s="%v"`, envName(name), kwargs[name]))
	}
	contentParts := make([]string, 0, len(contentArgs))
	for _, name := range contentArgs {
		contentParts = append(contentParts, fmt.Sprintf("%q: %#v", name, kwargs[name]))
	}

	return &MixedArgumentsError{
		ConfigArgs:  configArgs,
		ContentArgs: contentArgs,
		configText:  strings.Join(configParts, ", "),
		contentText: fmt.Sprintf("map[string]interface{}{%s}", strings.Join(contentParts, ", ")),
		envText:     strings.Join(envParts, " "),
	}
}

// contentArguments returns the subset of kwargs that is map content
func contentArguments(kwargs Args) map[string]interface{} {
	content := make(map[string]interface{})
	for name, value := range kwargs {
		if !configOptions[name] {
			content[name] = value
		}
	}
	return content
}
