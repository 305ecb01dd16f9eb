// Package commands contains the functionality for the set of commands
// currently supported by the admin tool.
package commands

import (
	"encoding/json"
	"errors"
	"os"
)

// ErrHelp provides context that help was given.
var ErrHelp = errors.New("provided help")

// printJSON writes the value to stdout as indented json.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
