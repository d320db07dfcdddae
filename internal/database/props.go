package database

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"lockss-go/internal/lockss"
)

// propsEncMode encodes property maps with Core Deterministic Encoding so
// the same map always produces the same column bytes.
var propsEncMode cbor.EncMode

func init() {
	var err error
	propsEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("database: CBOR encoder initialization failed: " + err.Error())
	}
}

func encodeProperties(p lockss.Properties) ([]byte, error) {
	if p == nil {
		p = lockss.Properties{}
	}
	data, err := propsEncMode.Marshal(map[string]string(p))
	if err != nil {
		return nil, fmt.Errorf("encoding properties: %w", err)
	}
	return data, nil
}

func decodeProperties(data []byte) (lockss.Properties, error) {
	p := lockss.Properties{}
	if len(data) == 0 {
		return p, nil
	}
	var m map[string]string
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	for k, v := range m {
		p[k] = v
	}
	return p, nil
}
