package main

import (
	"testing"

	"github.com/urfave/cli/v3"
)

func hasFlag(cmd *cli.Command, name string) bool {
	for _, f := range cmd.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// The sequence length is baked into the artifact at init time, so only
// init exposes the flag. The model-consuming commands read it back from
// the loaded artifact.
func TestMaxLengthFlagOnlyOnInit(t *testing.T) {
	if !hasFlag(initCmd(), "max-length") {
		t.Fatal("init should accept --max-length")
	}
	for _, cmd := range []*cli.Command{encodeCmd(), quantizeCmd(), evaluateCmd(), compareCmd()} {
		if hasFlag(cmd, "max-length") {
			t.Fatalf("%s should not accept --max-length", cmd.Name)
		}
	}
}
