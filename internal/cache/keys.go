package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// KeyPrefix namespaces every engine key so pattern invalidation and
// flushes never touch foreign data in a shared store.
const KeyPrefix = "asemb"

// Key builds "asemb:<namespace>:<id>". String identifiers are used
// verbatim; anything else is normalized (map keys sorted via a JSON
// round-trip) and hashed, so semantically identical inputs map to the
// same key regardless of property order.
func Key(namespace string, identifier any) string {
	id, ok := identifier.(string)
	if !ok {
		id = hashIdentifier(identifier)
	}
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, namespace, id)
}

func hashIdentifier(identifier any) string {
	normalized, err := normalize(identifier)
	if err != nil {
		normalized = []byte(fmt.Sprintf("%+v", identifier))
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])[:16]
}

// normalize round-trips through encoding/json: unmarshalling into any
// turns structs into maps, and json.Marshal emits map keys in sorted
// order, which is exactly the property-order independence we need.
func normalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
