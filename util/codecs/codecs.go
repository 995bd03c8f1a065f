package codecs

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Serializer - generic serializer interface
type Serializer interface {
	Encode(source interface{}) ([]byte, error)
	Decode(data []byte, target interface{}) error
}

// DefaultSerializer - returns default serializer
func DefaultSerializer() Serializer {
	return &CBORSerializer{}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	// RFC 8949 core deterministic encoding: map keys are sorted at
	// every nesting level, so encoded bytes of logically equal values
	// compare equal.
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em

	dm, err := cbor.DecOptions{
		// decode maps as map[string]interface{} rather than
		// map[interface{}]interface{}
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
		// all integers come back as int64
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// CBORSerializer - CBOR based serializer with deterministic encoding.
// Supports arbitrary nested values; time.Time values are tagged and
// survive a round trip through interface{}.
type CBORSerializer struct{}

// Encode - encodes source into deterministic CBOR bytes
func (s *CBORSerializer) Encode(source interface{}) ([]byte, error) {
	return encMode.Marshal(source)
}

// Decode - decodes given bytes into target
func (s *CBORSerializer) Decode(data []byte, target interface{}) error {
	return decMode.Unmarshal(data, target)
}

// JSONSerializer - JSON based serializer, useful when stored records
// should stay human readable. JSON cannot round-trip time.Time values
// through interface{}, they come back as strings.
type JSONSerializer struct{}

// Encode - encodes source into bytes using JSON encoder
func (s *JSONSerializer) Encode(source interface{}) ([]byte, error) {
	return json.Marshal(source)
}

// Decode - decodes given bytes into target struct
func (s *JSONSerializer) Decode(data []byte, target interface{}) error {
	return json.Unmarshal(data, target)
}
