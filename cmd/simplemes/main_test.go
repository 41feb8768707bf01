package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTranslate(t *testing.T) {
	out, err := runCLI(t, "translate", "DB100.1.3", "--brand", "Mitsubishi")
	require.NoError(t, err)
	assert.Equal(t, "DB100.1.3 -> D100.11 (mitsubishi)\n", out)

	out, err = runCLI(t, "translate", "DB10.0.1")
	require.NoError(t, err)
	assert.Equal(t, "DB10.0.1 -> DB10.DBX0.1 (siemens)\n", out)

	_, err = runCLI(t, "translate", "DB10")
	assert.Error(t, err, "siemens DB needs byte and bit")
}

func TestMigrateCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	cfgPath := dir + "/simplemes.yaml"
	writeConfig(t, cfgPath, "database:\n  driver: sqlite\n  sqlite:\n    path: "+dir+"/mes.db\nlog:\n  level: error\n")
	_, err := runCLI(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	out, err := runCLI(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "closed 0 stale session(s)")
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
