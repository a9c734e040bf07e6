package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/crate/internal/config"
	"github.com/conneroisu/crate/internal/crate"
	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/phar"
)

const encryptedKey = "../internal/signer/testdata/rsa_encrypted.pem"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// execute runs fn as a command with no parent and returns its output.
func execute(t *testing.T, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	err := fn(cmd, args)
	return out.String(), err
}

// restore resets the package level flag values after the test.
func restore(t *testing.T) {
	t.Helper()

	saved := struct {
		cfgFile, logLevel, buildOutput, buildFormat string
		buildQuiet                                  bool
		stub                                        stubOptions
		signKey, signPassphrase, signAlgorithm      string
		signFormat, infoFormat, versionFormat       string
		infoEntries, versionShort                   bool
	}{
		cfgFile, logLevel, buildOutput, buildFormat,
		buildQuiet,
		stubOpts,
		signKey, signPassphrase, signAlgorithm,
		signFormat, infoFormat, versionFormat,
		infoEntries, versionShort,
	}

	t.Cleanup(func() {
		cfgFile, logLevel, buildOutput, buildFormat = saved.cfgFile, saved.logLevel, saved.buildOutput, saved.buildFormat
		buildQuiet = saved.buildQuiet
		stubOpts = saved.stub
		signKey, signPassphrase, signAlgorithm = saved.signKey, saved.signPassphrase, saved.signAlgorithm
		signFormat, infoFormat, versionFormat = saved.signFormat, saved.infoFormat, saved.versionFormat
		infoEntries, versionShort = saved.infoEntries, saved.versionShort
	})
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// project writes a small application with its configuration and points
// --config at it.
func project(t *testing.T) string {
	t.Helper()
	restore(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "bin", "app.php"), "#!/usr/bin/env php\n<?php\necho 'Hello @name@';\n")
	writeFile(t, filepath.Join(dir, "src", "Greeter.php"), "<?php\n// greeter\nclass Greeter {}\n")
	writeFile(t, filepath.Join(dir, ".crate.yml"), `output: build/app.phar
main: bin/app.php
directories: [src]
compactors: [php]
replacements:
  "@name@": world
`)

	cfgFile = filepath.Join(dir, ".crate.yml")
	logLevel = "error"

	return dir
}

// archive writes a signed archive holding index.php.
func archive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.phar")

	c, err := crate.Create(path, crate.WithAlias("app.phar"))
	require.NoError(t, err)
	require.NoError(t, c.AddFromString("index.php", "<?php echo 'hi';"))
	require.NoError(t, c.SignWithHash(phar.SHA256))

	return path
}

func TestBuildCommand(t *testing.T) {
	dir := project(t)
	buildFormat = formatText

	out, err := execute(t, runBuild)
	require.NoError(t, err)

	output := filepath.Join(dir, "build", "app.phar")
	assert.Contains(t, out, "Built "+output)
	assert.Contains(t, out, "Entries:")
	assert.Contains(t, out, "SHA-256")

	a, err := phar.Open(output)
	require.NoError(t, err)
	e, ok := a.Entry("bin/app.php")
	require.True(t, ok)
	assert.Contains(t, string(e.Data), "echo 'Hello world';")
	assert.NotContains(t, string(e.Data), "#!")
	assert.True(t, a.Has("src/Greeter.php"))
}

func TestBuildCommandJSON(t *testing.T) {
	dir := project(t)
	buildFormat = formatJSON
	buildOutput = "dist/other.phar"

	out, err := execute(t, runBuild)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, filepath.Join(dir, "dist", "other.phar"), result["output"])
	assert.Equal(t, float64(2), result["entries"])
	assert.Equal(t, "SHA-256", result["signature"].(map[string]any)["hash_type"])
}

func TestBuildCommandQuiet(t *testing.T) {
	project(t)
	buildQuiet = true

	out, err := execute(t, runBuild)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuildCommandInvalidConfig(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, ".crate.yml"), "output: app.phar\ncompactors: [css]\n")

	_, err := execute(t, runBuild)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestBuildCommandMissingConfig(t *testing.T) {
	restore(t)
	cfgFile = filepath.Join(t.TempDir(), "missing.yml")

	_, err := execute(t, runBuild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestStubCommand(t *testing.T) {
	restore(t)
	stubOpts = stubOptions{
		alias:   "app.phar",
		index:   "bin/app.php",
		shebang: "#!/usr/bin/env php",
		banner:  "Hello",
		mung:    []string{"PHP_SELF"},
	}

	out, err := execute(t, runStub)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "#!/usr/bin/env php\n<?php\n"))
	assert.Contains(t, out, "Phar::mapPhar('app.phar');")
	assert.Contains(t, out, "Phar::mungServer(array (\n  0 => 'PHP_SELF',\n));")
	assert.Contains(t, out, "require 'phar://' . __FILE__ . '/bin/app.php';")
	assert.True(t, strings.HasSuffix(out, "__HALT_COMPILER();"))
}

func TestStubCommandOutputFile(t *testing.T) {
	restore(t)
	stubOpts = stubOptions{noBanner: true, output: filepath.Join(t.TempDir(), "stub.php")}

	out, err := execute(t, runStub)
	require.NoError(t, err)
	assert.Contains(t, out, "Stub written to")

	contents, err := os.ReadFile(stubOpts.output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(contents), "<?php\n"))
}

func TestStubCommandWeb(t *testing.T) {
	restore(t)
	stubOpts = stubOptions{
		web:       true,
		index:     "index.php",
		notFound:  "404.php",
		mimetypes: map[string]string{"phps": "1"},
		noBanner:  true,
	}

	out, err := execute(t, runStub)
	require.NoError(t, err)
	assert.Contains(t, out, `Phar::webPhar('', "index.php", "404.php", array (`)
	assert.Contains(t, out, "'phps' => 1,")
}

func TestStubCommandInvalid(t *testing.T) {
	restore(t)
	stubOpts = stubOptions{mung: []string{"HTTP_HOST"}}

	_, err := execute(t, runStub)
	require.Error(t, err)
	assert.True(t, errors.IsArgumentError(err))
}

func TestStubCommandFromConfig(t *testing.T) {
	project(t)
	stubOpts = stubOptions{fromConfig: true}

	out, err := execute(t, runStub)
	require.NoError(t, err)
	assert.Contains(t, out, "Phar::mapPhar('app.phar');")
	assert.Contains(t, out, "require 'phar://' . __FILE__ . '/bin/app.php';")
}

func TestSignCommand(t *testing.T) {
	restore(t)
	path := archive(t)
	signAlgorithm = "sha512"
	signFormat = formatText

	out, err := execute(t, runSign, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed "+path)
	assert.Contains(t, out, "SHA-512")

	sig, err := phar.Verify(path)
	require.NoError(t, err)
	assert.Equal(t, phar.SHA512, sig.Algorithm)
}

func TestSignCommandWithKey(t *testing.T) {
	restore(t)
	path := archive(t)
	signKey = encryptedKey
	signPassphrase = "test"
	signFormat = formatYAML

	out, err := execute(t, runSign, path)
	require.NoError(t, err)

	var sig map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &sig))
	assert.Equal(t, "OpenSSL", sig["hash_type"])
	assert.FileExists(t, phar.PublicKeyPath(path))

	_, err = phar.Verify(path)
	assert.NoError(t, err)
}

func TestSignCommandErrors(t *testing.T) {
	restore(t)

	_, err := execute(t, runSign, filepath.Join(t.TempDir(), "missing.phar"))
	require.Error(t, err)
	assert.True(t, errors.IsFileError(err))

	signAlgorithm = "CRC32"
	_, err = execute(t, runSign, archive(t))
	require.Error(t, err)

	signKey = encryptedKey
	signPassphrase = "wrong"
	_, err = execute(t, runSign, archive(t))
	require.Error(t, err)
	assert.True(t, errors.IsSignatureError(err))
}

func TestInfoCommand(t *testing.T) {
	restore(t)
	path := archive(t)
	infoFormat = formatText
	infoEntries = true

	out, err := execute(t, runInfo, path)
	require.NoError(t, err)
	assert.Contains(t, out, "app.phar")
	assert.Contains(t, out, "SHA-256")
	assert.Contains(t, out, "index.php")
}

func TestInfoCommandJSON(t *testing.T) {
	restore(t)
	path := archive(t)
	infoFormat = formatJSON
	infoEntries = true

	out, err := execute(t, runInfo, path)
	require.NoError(t, err)

	var info archiveInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, path, info.Path)
	assert.Equal(t, "app.phar", info.Alias)
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, "SHA-256", info.Signature.HashType)
	require.Len(t, info.Entries, 1)
	assert.Equal(t, entryInfo{Name: "index.php", Size: len("<?php echo 'hi';"), Compression: "none"}, info.Entries[0])
}

func TestInfoCommandMissing(t *testing.T) {
	restore(t)

	_, err := execute(t, runInfo, filepath.Join(t.TempDir(), "missing.phar"))
	require.Error(t, err)
	assert.True(t, errors.IsFileError(err))
}

func TestVerifyCommand(t *testing.T) {
	good := archive(t)
	bad := archive(t)

	data, err := os.ReadFile(bad)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(bad, data, 0o644))

	out, err := execute(t, runVerify, good)
	require.NoError(t, err)
	assert.Contains(t, out, "OK   "+good)

	out, err = execute(t, runVerify, good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "OK   "+good)
	assert.Contains(t, out, "FAIL "+bad)
}

func TestVersionCommand(t *testing.T) {
	restore(t)
	versionFormat = formatJSON

	out, err := execute(t, runVersionCommand)
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	versionFormat = formatText
	versionShort = true
	out, err = execute(t, runVersionCommand)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestFormatFlag(t *testing.T) {
	var format string
	cmd := &cobra.Command{}
	addFormatFlag(cmd, &format)
	assert.Equal(t, formatText, format)

	require.NoError(t, cmd.Flags().Set("format", "YAML"))
	assert.Equal(t, formatYAML, format)

	err := cmd.Flags().Set("format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text, json, yaml")
	assert.Equal(t, formatYAML, format)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "1023 B", formatSize(1023))
	assert.Equal(t, "1.0 KiB", formatSize(1024))
	assert.Equal(t, "1.5 MiB", formatSize(3<<19))
}

func TestExtensionFilter(t *testing.T) {
	filter := extensionFilter([]string{".php", " json", ""})
	assert.True(t, filter("src/Greeter.php"))
	assert.True(t, filter("composer.json"))
	assert.False(t, filter("README.md"))

	assert.True(t, extensionFilter(nil)("README.md"))
}

func TestWatchPaths(t *testing.T) {
	cfg := &config.Config{
		BasePath:    "/project",
		Directories: []string{"src"},
		Files:       []string{"LICENSE"},
		Main:        "bin/app.php",
		Stub:        config.StubConfig{File: "stub.php"},
	}

	assert.Equal(t, []string{
		filepath.Join("/project", "src"),
		filepath.Join("/project", "LICENSE"),
		filepath.Join("/project", "bin", "app.php"),
		filepath.Join("/project", "stub.php"),
	}, watchPaths(cfg))
}
