package phar

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/crate/internal/errors"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeName(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"src/a.php", "src/a.php", false},
		{"/src/a.php", "src/a.php", false},
		{`src\sub\a.php`, "src/sub/a.php", false},
		{"./src/../lib/a.php", "lib/a.php", false},
		{"../../etc/passwd", "etc/passwd", false},
		{"dir/", "dir", false},
		{"", "", true},
		{"/", "", true},
		{"..", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := NormalizeName(tc.input)
			if tc.wantErr {
				assert.True(t, errors.IsArgumentError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestSetStub(t *testing.T) {
	a := New("test.phar")

	require.NoError(t, a.SetStub("#!/usr/bin/env php\n<?php echo 'hi';\n__halt_compiler(); trailing junk"))
	assert.Equal(t, "#!/usr/bin/env php\n<?php echo 'hi';\n__halt_compiler(); ?>\r\n", a.Stub())

	err := a.SetStub("<?php echo 'no marker';")
	assert.True(t, errors.IsArgumentError(err))
}

func TestAddReplacesInPlace(t *testing.T) {
	a := New("test.phar", WithTimestamp(fixedTime))

	require.NoError(t, a.AddFromString("a.php", "one"))
	require.NoError(t, a.AddFromString("b.php", "two"))
	require.NoError(t, a.AddFromString("/a.php", "three"))

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a.php", entries[0].Name)
	assert.Equal(t, "three", string(entries[0].Data))
	assert.Equal(t, "b.php", entries[1].Name)
	assert.Equal(t, fixedTime, entries[0].Timestamp)
}

func TestSealedArchiveRejectsChanges(t *testing.T) {
	a := New("test.phar")
	a.Seal()

	assert.True(t, a.Sealed())
	assert.True(t, errors.IsArgumentError(a.AddFromString("a.php", "x")))
	assert.True(t, errors.IsArgumentError(a.AddEmptyDir("dir")))
	assert.True(t, errors.IsArgumentError(a.SetStub(HaltMarker)))
}

func TestAddFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.php")
	require.NoError(t, os.WriteFile(src, []byte("<?php echo 1;"), 0o644))

	a := New(filepath.Join(dir, "out.phar"))
	require.NoError(t, a.AddFile(src, "lib/hello.php"))
	e, ok := a.Entry("lib/hello.php")
	require.True(t, ok)
	assert.Equal(t, "<?php echo 1;", string(e.Data))

	err := a.AddFile(filepath.Join(dir, "missing.php"), "")
	require.Error(t, err)
	assert.True(t, errors.IsFileError(err))
	assert.Contains(t, err.Error(), "failed to open stream")
}

func TestManifestLayout(t *testing.T) {
	a := New("test.phar", WithTimestamp(fixedTime))
	require.NoError(t, a.SetStub("<?php "+HaltMarker))
	require.NoError(t, a.SetAlias("test.phar"))
	require.NoError(t, a.AddFromString("index.php", "<?php echo 1;"))
	require.NoError(t, a.AddEmptyDir("cache"))

	data, err := a.Bytes()
	require.NoError(t, err)

	stub := "<?php " + HaltMarker + " ?>\r\n"
	require.True(t, bytes.HasPrefix(data, []byte(stub)))
	m := data[len(stub):]

	manifestLen := binary.LittleEndian.Uint32(m[0:4])
	assert.EqualValues(t, 2, binary.LittleEndian.Uint32(m[4:8]))
	assert.Equal(t, []byte{0x11, 0x10}, m[8:10])
	assert.EqualValues(t, 0x00010000, binary.LittleEndian.Uint32(m[10:14]))
	assert.EqualValues(t, len("test.phar"), binary.LittleEndian.Uint32(m[14:18]))
	assert.Equal(t, "test.phar", string(m[18:27]))
	assert.Contains(t, string(m[:4+manifestLen]), "cache/")

	payload := m[4+manifestLen:]
	assert.True(t, bytes.HasPrefix(payload, []byte("<?php echo 1;")))
	assert.True(t, bytes.HasSuffix(data, []byte("GBMB")))
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.phar")
	a := New(path, WithTimestamp(fixedTime))
	require.NoError(t, a.SetStub("<?php Phar::mapPhar('app.phar'); "+HaltMarker))
	require.NoError(t, a.SetAlias("app.phar"))
	require.NoError(t, a.SetMetadata(map[string]any{"version": "1.0.0"}))
	require.NoError(t, a.AddFromString("src/Foo.php", "<?php class Foo {}"))
	require.NoError(t, a.AddEmptyDir("var/cache"))
	require.NoError(t, a.AddFromString("README", strings.Repeat("readme ", 100)))
	require.NoError(t, a.Flush())

	b, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, a.Stub(), b.Stub())
	assert.Equal(t, "app.phar", b.Alias())
	assert.Equal(t, `a:1:{s:7:"version";s:5:"1.0.0";}`, string(b.Metadata()))
	require.Equal(t, 3, b.Len())

	got := b.Entries()
	assert.Equal(t, "src/Foo.php", got[0].Name)
	assert.Equal(t, "<?php class Foo {}", string(got[0].Data))
	assert.True(t, got[1].Dir)
	assert.Equal(t, "var/cache", got[1].Name)
	assert.Equal(t, fixedTime.Unix(), got[2].Timestamp.Unix())

	again, err := b.Bytes()
	require.NoError(t, err)
	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, again)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "new.phar"))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())
}

func TestGZCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gz.phar")
	contents := strings.Repeat("<?php echo 'compress me';\n", 200)

	a := New(path)
	require.NoError(t, a.AddFromString("a.php", contents))
	require.NoError(t, a.SetCompression(GZ))
	require.NoError(t, a.AddFromString("b.php", contents))
	require.NoError(t, a.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(contents)))

	b, err := Open(path)
	require.NoError(t, err)
	for _, e := range b.Entries() {
		assert.Equal(t, GZ, e.Compression)
		assert.Equal(t, contents, string(e.Data))
	}
	assert.Equal(t, GZ, b.Compression())

	assert.True(t, errors.IsArgumentError(a.SetCompression(BZ2)))
}

func TestParseRejectsCorruptData(t *testing.T) {
	testCases := map[string][]byte{
		"no halt marker":    []byte("<?php echo 1;"),
		"truncated":         []byte("<?php " + HaltMarker + " ?>\r\n\x10\x00"),
		"bogus entry count": append([]byte("<?php "+HaltMarker+"\n"), 0x0a, 0, 0, 0, 0xff, 0xff, 0xff, 0x0f, 0x11, 0x10),
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			require.Error(t, err)
			assert.True(t, errors.IsFormatError(err), err.Error())
		})
	}
}

func TestParseDetectsCRCMismatch(t *testing.T) {
	a := New("x.phar")
	require.NoError(t, a.AddFromString("a.txt", "hello world"))
	data, err := a.Bytes()
	require.NoError(t, err)

	i := bytes.Index(data, []byte("hello world"))
	require.Positive(t, i)
	data[i] = 'H'

	_, err = Parse(data)
	assert.True(t, errors.IsFormatError(err))
}

func TestHashSignatures(t *testing.T) {
	for _, algo := range []SignatureAlgorithm{MD5, SHA1, SHA256, SHA512} {
		t.Run(algo.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "signed.phar")
			a := New(path)
			require.NoError(t, a.AddFromString("index.php", "<?php echo 1;"))
			require.NoError(t, a.SetSignatureAlgorithm(algo, nil))
			require.NoError(t, a.Flush())

			sig, err := ReadSignature(path)
			require.NoError(t, err)
			assert.Equal(t, algo, sig.Algorithm)
			assert.Equal(t, algo.String(), sig.HashType)
			assert.Len(t, sig.Hash, algo.Hash().Size()*2)
			assert.Equal(t, strings.ToUpper(sig.Hash), sig.Hash)

			_, err = Verify(path)
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			data[len(a.Stub())+20] ^= 0xff
			require.NoError(t, os.WriteFile(path, data, 0o644))
			_, err = Verify(path)
			assert.True(t, errors.IsSignatureError(err))
		})
	}
}

func TestSHA256SignatureCoversPrecedingBytes(t *testing.T) {
	a := New("x.phar", WithTimestamp(fixedTime))
	require.NoError(t, a.AddFromString("a", "b"))
	data, err := a.Bytes()
	require.NoError(t, err)

	body := data[:len(data)-8-sha256.Size]
	sum := sha256.Sum256(body)

	sig, err := parseSignature(data)
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(sum[:])), sig.Hash)
	assert.Equal(t, "SHA-256", sig.HashType)
}

func TestOpenSSLSignature(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		algo SignatureAlgorithm
		key  any
	}{
		{"rsa sha1", OpenSSL, rsaKey},
		{"rsa sha256", OpenSSLSHA256, rsaKey},
		{"ecdsa sha512", OpenSSLSHA512, ecKey},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "signed.phar")
			a := New(path)
			require.NoError(t, a.AddFromString("index.php", "<?php echo 1;"))

			var pub any
			switch k := tc.key.(type) {
			case *rsa.PrivateKey:
				require.NoError(t, a.SetSignatureAlgorithm(tc.algo, k))
				pub = k.Public()
			case *ecdsa.PrivateKey:
				require.NoError(t, a.SetSignatureAlgorithm(tc.algo, k))
				pub = k.Public()
			}
			require.NoError(t, a.Flush())

			der, err := x509.MarshalPKIXPublicKey(pub)
			require.NoError(t, err)
			pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
			require.NoError(t, os.WriteFile(PublicKeyPath(path), pemBytes, 0o644))

			sig, err := Verify(path)
			require.NoError(t, err)
			assert.Equal(t, tc.algo.String(), sig.HashType)

			b, err := Open(path)
			require.NoError(t, err)
			assert.Equal(t, 1, b.Len())
		})
	}
}

func TestOpenSSLRequiresSigner(t *testing.T) {
	a := New("x.phar")
	err := a.SetSignatureAlgorithm(OpenSSL, nil)
	assert.True(t, errors.IsSignatureError(err))

	err = a.SetSignatureAlgorithm(SignatureAlgorithm(0x99), nil)
	assert.True(t, errors.IsSignatureError(err))
}

func TestReadSignatureErrors(t *testing.T) {
	_, err := ReadSignature(filepath.Join(t.TempDir(), "missing.phar"))
	assert.True(t, errors.IsFileError(err))

	path := filepath.Join(t.TempDir(), "plain.phar")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))
	_, err = ReadSignature(path)
	assert.True(t, errors.IsFormatError(err))
}

func TestParseSignatureAlgorithm(t *testing.T) {
	testCases := map[string]SignatureAlgorithm{
		"md5":            MD5,
		"SHA1":           SHA1,
		"sha-256":        SHA256,
		"":               SHA256,
		"SHA512":         SHA512,
		"OPENSSL":        OpenSSL,
		"openssl_sha256": OpenSSLSHA256,
		"OpenSSL-SHA512": OpenSSLSHA512,
	}
	for input, expected := range testCases {
		got, err := ParseSignatureAlgorithm(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, got, input)
	}

	_, err := ParseSignatureAlgorithm("crc32")
	assert.True(t, errors.IsArgumentError(err))
}
