package phar

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/md5" //nolint:gosec // phar signature format
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // phar signature format
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"hash"
	"os"
	"strings"

	"github.com/conneroisu/crate/internal/errors"
)

// SignatureAlgorithm is the flag stored in the signature trailer.
type SignatureAlgorithm uint32

const (
	MD5           SignatureAlgorithm = 0x0001
	SHA1          SignatureAlgorithm = 0x0002
	SHA256        SignatureAlgorithm = 0x0003
	SHA512        SignatureAlgorithm = 0x0004
	OpenSSL       SignatureAlgorithm = 0x0010
	OpenSSLSHA256 SignatureAlgorithm = 0x0011
	OpenSSLSHA512 SignatureAlgorithm = 0x0012
)

// DefaultSignatureAlgorithm is used for archives that never had an
// algorithm chosen.
const DefaultSignatureAlgorithm = SHA256

// signatureMagic terminates every signed archive.
var signatureMagic = []byte("GBMB")

// String returns the name PHP reports as hash_type.
func (a SignatureAlgorithm) String() string {
	switch a {
	case MD5:
		return "MD5"
	case SHA1:
		return "SHA-1"
	case SHA256:
		return "SHA-256"
	case SHA512:
		return "SHA-512"
	case OpenSSL:
		return "OpenSSL"
	case OpenSSLSHA256:
		return "OpenSSL_SHA256"
	case OpenSSLSHA512:
		return "OpenSSL_SHA512"
	default:
		return fmt.Sprintf("unknown(%#x)", uint32(a))
	}
}

// Valid reports whether a is a known algorithm.
func (a SignatureAlgorithm) Valid() bool {
	return a.Hash() != 0
}

// Asymmetric reports whether the algorithm needs a private key.
func (a SignatureAlgorithm) Asymmetric() bool {
	return a&OpenSSL != 0
}

// Hash returns the digest used by the algorithm.
func (a SignatureAlgorithm) Hash() crypto.Hash {
	switch a {
	case MD5:
		return crypto.MD5
	case SHA1, OpenSSL:
		return crypto.SHA1
	case SHA256, OpenSSLSHA256:
		return crypto.SHA256
	case SHA512, OpenSSLSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

func (a SignatureAlgorithm) newHash() hash.Hash {
	switch a.Hash() {
	case crypto.MD5:
		return md5.New() //nolint:gosec // phar signature format
	case crypto.SHA1:
		return sha1.New() //nolint:gosec // phar signature format
	case crypto.SHA256:
		return sha256.New()
	default:
		return sha512.New()
	}
}

// ParseSignatureAlgorithm accepts the names used in configuration files,
// e.g. "SHA256", "sha-256" or "OPENSSL".
func ParseSignatureAlgorithm(name string) (SignatureAlgorithm, error) {
	n := strings.ToUpper(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(name)))
	switch n {
	case "MD5":
		return MD5, nil
	case "SHA1":
		return SHA1, nil
	case "", "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	case "OPENSSL":
		return OpenSSL, nil
	case "OPENSSLSHA256":
		return OpenSSLSHA256, nil
	case "OPENSSLSHA512":
		return OpenSSLSHA512, nil
	default:
		return 0, errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The signature algorithm %q is not supported.", name))
	}
}

// Signature describes the trailer of a signed archive.
type Signature struct {
	Algorithm SignatureAlgorithm `json:"-" yaml:"-"`
	// Hash is the upper-case hex digest, or for OpenSSL algorithms the
	// upper-case hex signature.
	Hash     string `json:"hash" yaml:"hash"`
	HashType string `json:"hash_type" yaml:"hash_type"`

	raw    []byte
	signed int
}

// sign computes the trailer for data.
func sign(data []byte, algo SignatureAlgorithm, signer crypto.Signer) ([]byte, error) {
	h := algo.newHash()
	h.Write(data)
	digest := h.Sum(nil)

	trailer := make([]byte, 0, len(digest)+12)
	if !algo.Asymmetric() {
		trailer = append(trailer, digest...)
		trailer = binary.LittleEndian.AppendUint32(trailer, uint32(algo))
		return append(trailer, signatureMagic...), nil
	}

	if signer == nil {
		return nil, errors.NewSignatureError(errors.CodeMissingArg,
			fmt.Sprintf("A private key is required to sign using %s.", algo), nil)
	}
	sig, err := signer.Sign(rand.Reader, digest, algo.Hash())
	if err != nil {
		return nil, errors.NewSignatureError(errors.CodeInvalidKey, "Unable to sign the archive", err)
	}
	trailer = append(trailer, sig...)
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(len(sig)))
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(algo))
	return append(trailer, signatureMagic...), nil
}

// parseSignature reads the trailer at the end of data and records how many
// leading bytes it covers.
func parseSignature(data []byte) (Signature, error) {
	if len(data) < 8 || !bytes.Equal(data[len(data)-4:], signatureMagic) {
		return Signature{}, errors.NewFormatError(errors.CodeCorrupt,
			"The archive does not have a signature.", nil)
	}
	end := len(data) - 8
	algo := SignatureAlgorithm(binary.LittleEndian.Uint32(data[end : end+4]))
	if !algo.Valid() {
		return Signature{}, errors.NewFormatError(errors.CodeCorrupt,
			fmt.Sprintf("Unknown signature flags %#x.", uint32(algo)), nil)
	}

	var raw []byte
	if algo.Asymmetric() {
		if end < 4 {
			return Signature{}, errors.NewFormatError(errors.CodeCorrupt, "Truncated signature trailer.", nil)
		}
		n := int(binary.LittleEndian.Uint32(data[end-4 : end]))
		end -= 4
		if n > end {
			return Signature{}, errors.NewFormatError(errors.CodeCorrupt, "Truncated signature trailer.", nil)
		}
		raw = data[end-n : end]
		end -= n
	} else {
		n := algo.Hash().Size()
		if n > end {
			return Signature{}, errors.NewFormatError(errors.CodeCorrupt, "Truncated signature trailer.", nil)
		}
		raw = data[end-n : end]
		end -= n
	}

	return Signature{
		Algorithm: algo,
		Hash:      strings.ToUpper(hex.EncodeToString(raw)),
		HashType:  algo.String(),
		raw:       raw,
		signed:    end,
	}, nil
}

// ReadSignature returns the signature of the archive stored at path without
// parsing its manifest.
func ReadSignature(path string) (Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signature{}, errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%s: failed to open stream", path), err).WithPath(path)
	}

	return parseSignature(data)
}

// Verify checks the trailer of the archive stored at path against its
// contents. OpenSSL signatures are checked against the public key stored
// next to the archive.
func Verify(path string) (Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signature{}, errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%s: failed to open stream", path), err).WithPath(path)
	}
	sig, err := parseSignature(data)
	if err != nil {
		return Signature{}, err
	}

	h := sig.Algorithm.newHash()
	h.Write(data[:sig.signed])
	digest := h.Sum(nil)

	if !sig.Algorithm.Asymmetric() {
		if !bytes.Equal(digest, sig.raw) {
			return sig, errors.NewSignatureError(errors.CodeSignMismatch,
				fmt.Sprintf("The %s signature of %q does not match its contents.", sig.HashType, path), nil)
		}
		return sig, nil
	}

	keyPath := PublicKeyPath(path)
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return sig, errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%s: failed to open stream", keyPath), err).WithPath(keyPath)
	}
	pub, err := parsePublicKey(pemBytes)
	if err != nil {
		return sig, err
	}
	if err := verifyDigest(pub, sig.Algorithm.Hash(), digest, sig.raw); err != nil {
		return sig, errors.NewSignatureError(errors.CodeSignMismatch,
			fmt.Sprintf("The %s signature of %q does not match its contents.", sig.HashType, path), err)
	}

	return sig, nil
}

// PublicKeyPath returns where the public key of an OpenSSL signed archive
// lives.
func PublicKeyPath(archive string) string {
	return archive + ".pubkey"
}

func parsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.NewSignatureError(errors.CodeInvalidKey, "The public key is not PEM encoded.", nil)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.NewSignatureError(errors.CodeInvalidKey, "Could not parse the public key", err)
	}

	return pub, nil
}

func verifyDigest(pub crypto.PublicKey, h crypto.Hash, digest, sig []byte) error {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, h, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest, sig) {
			return errors.New("ecdsa: invalid signature")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}
