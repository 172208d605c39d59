package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
)

var (
	magicPlain  = []byte("CMP1")
	magicSealed = []byte("CMS1")
)

// encMode uses Core Deterministic Encoding so the same manifest always
// produces identical bytes. Times keep their nanoseconds.
var encMode cbor.EncMode

// decMode ignores unknown fields so newer manifests stay readable.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("manifest: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("manifest: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the manifest CBOR settings
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode serializes a manifest. With a data key the body is sealed and the
// manifest's wrapped key is stored in front of it.
func Encode(m *domain.BackupIncrementManifest, dek []byte) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest %s: %w", m.FileName(), err)
	}

	var buf bytes.Buffer
	if dek == nil {
		buf.Write(magicPlain)
		buf.Write(body)
		return buf.Bytes(), nil
	}

	if len(m.EncryptionKey) == 0 {
		return nil, fmt.Errorf("%w: manifest %s has no wrapped key", domain.ErrCrypto, m.FileName())
	}
	sealed, err := crypt.Seal(dek, body)
	if err != nil {
		return nil, err
	}
	buf.Write(magicSealed)
	binary.Write(&buf, binary.BigEndian, uint32(len(m.EncryptionKey)))
	buf.Write(m.EncryptionKey)
	buf.Write(sealed)
	return buf.Bytes(), nil
}

// Decode parses a manifest file. Sealed manifests need an unwrapper.
func Decode(data []byte, unwrapper crypt.KeyUnwrapper) (*domain.BackupIncrementManifest, error) {
	if len(data) < len(magicPlain) {
		return nil, fmt.Errorf("%w: manifest too short", domain.ErrIntegrity)
	}

	var body []byte
	switch magic, rest := data[:4], data[4:]; {
	case bytes.Equal(magic, magicPlain):
		body = rest
	case bytes.Equal(magic, magicSealed):
		if unwrapper == nil {
			return nil, fmt.Errorf("%w: manifest is encrypted and no identity was given", domain.ErrCrypto)
		}
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: sealed manifest truncated", domain.ErrIntegrity)
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: sealed manifest truncated", domain.ErrIntegrity)
		}
		dek, err := unwrapper.UnwrapKey(rest[:n])
		if err != nil {
			return nil, err
		}
		body, err = crypt.Open(dek, rest[n:])
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown manifest format %q", domain.ErrIntegrity, magic)
	}

	var m domain.BackupIncrementManifest
	if err := Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", domain.ErrIntegrity, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]domain.FileMetadata)
	}
	if m.ArchivedEntities == nil {
		m.ArchivedEntities = make(map[string][]string)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIntegrity, err)
	}
	return &m, nil
}
