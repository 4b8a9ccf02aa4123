// Package qr encodes certificates into and decodes them from the HC1
// transport string: "HC1:" + Base45(Zlib(COSE_Sign(CBOR(payload)))).
//
// The COSE structure is informational transport: trust is carried by the
// two detached signatures over the canonical JSON hash, which verifiers
// recompute from the stored payload.
package qr

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/minvws/base45-go/eubase45"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
)

// Prefix marks HC1-family transport strings.
const Prefix = "HC1:"

// AlgRS256 is the COSE algorithm identifier carried in each signature's
// protected header (RSASSA-PKCS1-v1.5 with SHA-256, IANA COSE registry).
const AlgRS256 = -257

// coseHeaderAlg is the COSE header parameter label for the algorithm.
const coseHeaderAlg = 1

// coseSign is the 4-element COSE_Sign array: protected header bytes, an
// unprotected header map, the payload bytes and the signature structures.
type coseSign struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signatures  []coseSignature
}

// coseSignature is one [protected, unprotected, signature] triple.
type coseSignature struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Signature   []byte
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Decoded is the result of parsing an HC1 string: the CBOR payload bytes
// and the two raw signature byte strings, vet first.
type Decoded struct {
	PayloadCBOR     []byte
	VetSignature    []byte
	ClinicSignature []byte
	Alg             int
}

// Payload re-materializes the CBOR payload as a generic map for display.
func (d *Decoded) Payload() (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := cbor.Unmarshal(d.PayloadCBOR, &m); err != nil {
		return nil, pcerrors.CborParseErr("parsing payload CBOR: %s", err)
	}
	return m, nil
}

// Encode renders a stored certificate into its HC1 transport string.
// Calling it with a nil certificate or an empty payload is a programming
// error and panics.
func Encode(cert *core.Certificate) (string, error) {
	if cert == nil || cert.PayloadJSON == "" {
		panic("qr: Encode called with nil certificate or empty payload")
	}

	payloadCBOR, err := payloadToCBOR(cert.PayloadJSON)
	if err != nil {
		return "", err
	}

	vetSig, err := base64.StdEncoding.DecodeString(cert.VetSignature)
	if err != nil {
		return "", pcerrors.InternalServerError("stored vet signature of certificate %d is not valid base64", cert.ID)
	}
	clinicSig, err := base64.StdEncoding.DecodeString(cert.ClinicSignature)
	if err != nil {
		return "", pcerrors.InternalServerError("stored clinic signature of certificate %d is not valid base64", cert.ID)
	}

	sigProtected, err := encMode.Marshal(map[int]interface{}{coseHeaderAlg: AlgRS256})
	if err != nil {
		return "", pcerrors.InternalServerError("encoding COSE protected header: %s", err)
	}
	bodyProtected, err := encMode.Marshal(map[int]interface{}{})
	if err != nil {
		return "", pcerrors.InternalServerError("encoding COSE body header: %s", err)
	}

	message := coseSign{
		Protected:   bodyProtected,
		Unprotected: map[interface{}]interface{}{},
		Payload:     payloadCBOR,
		Signatures: []coseSignature{
			{Protected: sigProtected, Unprotected: map[interface{}]interface{}{}, Signature: vetSig},
			{Protected: sigProtected, Unprotected: map[interface{}]interface{}{}, Signature: clinicSig},
		},
	}
	coseBytes, err := encMode.Marshal(message)
	if err != nil {
		return "", pcerrors.InternalServerError("encoding COSE message: %s", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(coseBytes); err != nil {
		return "", pcerrors.InternalServerError("deflating COSE message: %s", err)
	}
	if err := zw.Close(); err != nil {
		return "", pcerrors.InternalServerError("deflating COSE message: %s", err)
	}

	return Prefix + string(eubase45.EUBase45Encode(compressed.Bytes())), nil
}

// Decode parses an HC1 transport string back into its payload bytes and
// the two signature byte strings.
func Decode(qrData string) (*Decoded, error) {
	if !strings.HasPrefix(qrData, Prefix) {
		return nil, pcerrors.MalformedQrInputError("data does not start with %q prefix", Prefix)
	}
	unprefixed := strings.TrimPrefix(qrData, Prefix)
	if unprefixed == "" {
		return nil, pcerrors.MalformedQrInputError("empty payload after %q prefix", Prefix)
	}

	compressed, err := eubase45.EUBase45Decode([]byte(unprefixed))
	if err != nil {
		return nil, pcerrors.Base45DecodeErr("base45 decoding failed: %s", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, pcerrors.InflateErr("inflating COSE message: %s", err)
	}
	defer zr.Close()
	coseBytes, err := io.ReadAll(zr)
	if err != nil {
		return nil, pcerrors.InflateErr("inflating COSE message: %s", err)
	}

	var message coseSign
	if err := cbor.Unmarshal(coseBytes, &message); err != nil {
		return nil, pcerrors.CborParseErr("parsing COSE message: %s", err)
	}
	if len(message.Signatures) != 2 {
		return nil, pcerrors.CborParseErr("expected 2 COSE signatures, got %d", len(message.Signatures))
	}

	alg := 0
	var sigHeader map[int]int
	if err := cbor.Unmarshal(message.Signatures[0].Protected, &sigHeader); err == nil {
		alg = sigHeader[coseHeaderAlg]
	}

	return &Decoded{
		PayloadCBOR:     message.Payload,
		VetSignature:    message.Signatures[0].Signature,
		ClinicSignature: message.Signatures[1].Signature,
		Alg:             alg,
	}, nil
}

// payloadToCBOR re-parses the canonical JSON payload into a CBOR map
// with the same field names and nesting. Integer-valued JSON numbers
// stay integers.
func payloadToCBOR(payloadJSON string) ([]byte, error) {
	dec := json.NewDecoder(strings.NewReader(payloadJSON))
	dec.UseNumber()
	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, pcerrors.InternalServerError("re-parsing canonical payload: %s", err)
	}
	cborReady := jsonValueToCBOR(parsed)
	out, err := encMode.Marshal(cborReady)
	if err != nil {
		return nil, pcerrors.InternalServerError("encoding payload CBOR: %s", err)
	}
	return out, nil
}

func jsonValueToCBOR(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, inner := range value {
			out[k] = jsonValueToCBOR(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, inner := range value {
			out[i] = jsonValueToCBOR(inner)
		}
		return out
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		f, _ := value.Float64()
		return f
	default:
		return v
	}
}
