package catalog

import (
	"fmt"
	"os"

	"github.com/coreybb/hermes/models"
	"gopkg.in/yaml.v3"
)

// Catalog is the static mapping from payment-processor item ids (price or
// product ids) to configured deliverables. It is built once at startup and
// read-only afterwards; changing the mapping requires a restart.
type Catalog struct {
	products map[string]models.DeliverableDescriptor
}

// New builds a Catalog from an in-memory mapping, validating every entry.
func New(products map[string]models.DeliverableDescriptor) (*Catalog, error) {
	for id, descriptor := range products {
		if !descriptor.IsValid() {
			return nil, fmt.Errorf("product %q must have a name and exactly one of url or path", id)
		}
	}

	copied := make(map[string]models.DeliverableDescriptor, len(products))
	for id, descriptor := range products {
		copied[id] = descriptor
	}
	return &Catalog{products: copied}, nil
}

// Load reads the product mapping from a YAML file keyed by item id.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read products config %s: %w", path, err)
	}

	var products map[string]models.DeliverableDescriptor
	if err := yaml.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("failed to parse products config %s: %w", path, err)
	}

	return New(products)
}

// Len returns the number of configured products.
func (c *Catalog) Len() int {
	return len(c.products)
}

// Resolve maps item ids to their configured deliverables. Unknown ids are
// dropped silently; whether an empty result is operationally significant is
// the caller's call. Input ids are treated as a set, and the output is
// additionally de-duplicated by (name, source) because a checkout line item
// commonly carries both a price id and a product id for the same product.
// First-seen input order is preserved.
func (c *Catalog) Resolve(itemIDs []string) []models.DeliverableDescriptor {
	seenIDs := make(map[string]struct{}, len(itemIDs))
	seenDeliverables := make(map[[2]string]struct{})

	var resolved []models.DeliverableDescriptor
	for _, id := range itemIDs {
		if id == "" {
			continue
		}
		if _, dup := seenIDs[id]; dup {
			continue
		}
		seenIDs[id] = struct{}{}

		descriptor, ok := c.products[id]
		if !ok {
			continue
		}

		key := [2]string{descriptor.Name, descriptor.SourceKey()}
		if _, dup := seenDeliverables[key]; dup {
			continue
		}
		seenDeliverables[key] = struct{}{}
		resolved = append(resolved, descriptor)
	}
	return resolved
}
