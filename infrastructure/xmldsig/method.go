package xmldsig

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// signatureMethod applies one SignatureMethod to canonical SignedInfo bytes.
type signatureMethod struct {
	uri   string
	hash  crypto.Hash
	ecdsa bool
}

func (m signatureMethod) digest(data []byte) []byte {
	h := m.hash.New()
	h.Write(data)
	return h.Sum(nil)
}

// sign returns the SignatureValue bytes. ECDSA values use the fixed-size
// r||s encoding XML-DSig requires instead of ASN.1.
func (m signatureMethod) sign(key crypto.Signer, data []byte) ([]byte, error) {
	sig, err := key.Sign(rand.Reader, m.digest(data), m.hash)
	if err != nil {
		return nil, err
	}
	if !m.ecdsa {
		return sig, nil
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("ECDSA signature method requires an ECDSA key")
	}
	return derToRaw(sig, curveSize(pub))
}

func (m signatureMethod) verify(key crypto.PublicKey, data, sig []byte) error {
	switch pub := key.(type) {
	case *rsa.PublicKey:
		if m.ecdsa {
			return fmt.Errorf("%s cannot be verified with an RSA key", AlgorithmName(m.uri))
		}
		return rsa.VerifyPKCS1v15(pub, m.hash, m.digest(data), sig)
	case *ecdsa.PublicKey:
		if !m.ecdsa {
			return fmt.Errorf("%s cannot be verified with an ECDSA key", AlgorithmName(m.uri))
		}
		size := curveSize(pub)
		if len(sig) != 2*size {
			return errors.New("ECDSA signature has the wrong length")
		}
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if !ecdsa.Verify(pub, m.digest(data), r, s) {
			return errors.New("ECDSA verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", key)
	}
}

func (m signatureMethod) compatible(pub crypto.PublicKey) bool {
	switch pub.(type) {
	case *rsa.PublicKey:
		return !m.ecdsa
	case *ecdsa.PublicKey:
		return m.ecdsa
	default:
		return false
	}
}

func curveSize(pub *ecdsa.PublicKey) int {
	return (pub.Curve.Params().BitSize + 7) / 8
}

func derToRaw(der []byte, size int) ([]byte, error) {
	r, s := new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, errors.New("malformed ECDSA signature")
	}
	if r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, errors.New("ECDSA signature does not fit the curve size")
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
