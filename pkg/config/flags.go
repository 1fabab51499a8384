// skipkv uses flags and a single config file for configuration.
// A config file is stored in .txtpb format and contains the values that can be set via flags, e.g.
//
//	logging { log_level: "debug" }
//	server { address: ":6380" shard_count: 4 }
//
// Values from the config file override flag defaults; the file is applied right after flag.Parse.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

var configFilePath = flag.String("config_file", "", "Path to the .txtpb configuration file.")

// skippedProtobufFlags is the list of command line flags that can't be set from the config file.
var skippedProtobufFlags = []string{"print_version", "config_file"}

// protobufValueToString converts a protobuf field value to its string representation suitable for flag setting.
func protobufValueToString(fd protoreflect.FieldDescriptor, v protoreflect.Value) (string, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return strconv.FormatBool(v.Bool()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(v.Int(), 10), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10), nil
	case protoreflect.FloatKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), nil
	case protoreflect.DoubleKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case protoreflect.StringKind:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported kind: %v", fd.Kind())
	}
}

// collectFlags collects the flags set in the given protobuf message into `flags`.
// Nested messages are sections; every scalar field is named after its flag.
func collectFlags(flags map[ /*flagName*/ string] /*flagValue*/ string, m protoreflect.Message) error {
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.IsList() || fd.IsMap() {
			err = fmt.Errorf("repeated/map not supported: %s", fd.FullName())
			return false
		}
		if fd.Kind() == protoreflect.MessageKind { // Recurse into sections.
			err = collectFlags(flags, v.Message())
			return err == nil
		}
		flagName := string(fd.Name())
		stringValue, convErr := protobufValueToString(fd, v)
		if convErr != nil {
			err = fmt.Errorf("failed to convert %s: %w", fd.FullName(), convErr)
			return false
		}
		if _, alreadyExists := flags[flagName]; alreadyExists {
			err = fmt.Errorf("flag '%s' has multiple entries in txtpb config: '%s'", flagName, fd.FullName())
			return false
		}
		flags[flagName] = stringValue
		return true
	})
	return err
}

// parseConfig parses the txtpb `content` and returns the flag values it sets.
func parseConfig(content []byte) (map[ /*flagName*/ string] /*flagValue*/ string, error) {
	md, err := configDescriptor()
	if err != nil {
		return nil, err
	}
	conf := dynamicpb.NewMessage(md)
	if err := prototext.Unmarshal(content, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	flags := make(map[ /*flagName*/ string] /*flagValue*/ string)
	if err := collectFlags(flags, conf); err != nil {
		return nil, fmt.Errorf("failed to collect flags: %w", err)
	}
	return flags, nil
}

// ApplyConfigFile sets the flags found in the config file at `path`.
func ApplyConfigFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	flags, err := parseConfig(content)
	if err != nil {
		return err
	}
	for flagName, flagValue := range flags {
		if setErr := flag.Set(flagName, flagValue); setErr != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, setErr)
		}
	}
	slog.Debug("Applied config file.", "path", path, "flags", len(flags))
	return nil
}

// InitFlags parses the command line and then applies the config file given by -config_file, if any.
// A broken config file is logged and skipped so the process starts with the command line values.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Debug("Config file not specified. Skipping config initialization.")
		return
	}
	err := ApplyConfigFile(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
		return
	}
	if err != nil {
		slog.Error("Failed to apply config file.", "path", *configFilePath, "error", err)
	}
}

// getDefinedFlags returns the set of flags the config schema can set.
func getDefinedFlags(md protoreflect.MessageDescriptor) map[ /*flagName*/ string]struct{} {
	flagSet := make(map[ /*flagName*/ string]struct{})
	for fieldIdx := 0; fieldIdx < md.Fields().Len(); fieldIdx++ {
		fd := md.Fields().Get(fieldIdx)
		if fd.Kind() == protoreflect.MessageKind {
			for flagName := range getDefinedFlags(fd.Message()) {
				flagSet[flagName] = struct{}{}
			}
			continue
		}
		flagSet[string(fd.Name())] = struct{}{}
	}
	return flagSet
}

// CollectUnregisteredFlags collects all flags that can't be set from the config file.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	md, err := configDescriptor()
	if err != nil {
		return []error{err}
	}
	definedFlags := getDefinedFlags(md)
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedProtobufFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in protobuf config", f.Name))
		}
	})
	return errs
}
