package signatures

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewProfilePicker returns a picker choosing uniformly among count avatar paths built from format.
func NewProfilePicker(count int, format string, random *rand.Rand) func() string {
	if count <= 0 {
		count = 1
	}
	if random == nil {
		random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		index := random.IntN(count) + 1
		mu.Unlock()
		return fmt.Sprintf(format, index)
	}
}
