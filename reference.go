package stdatamodels

import (
	"fmt"
	"strings"
)

var referenceFields = []string{"description", "reftype", "author", "pedigree", "useafter"}

// ValidateReference checks the metadata every reference file must carry:
// description, reftype, author, pedigree, useafter and instrument.name, with
// telescope set to JWST. Strict models return an error; lenient ones warn.
func (m *DataModel) ValidateReference() error {
	var missing []string
	for _, f := range referenceFields {
		if !m.has("meta." + f) {
			missing = append(missing, f)
		}
	}
	if !m.has("meta.instrument.name") {
		missing = append(missing, "instrument.name")
	}
	if tel, _ := m.GetString("meta.telescope"); tel != "JWST" {
		missing = append(missing, "telescope")
	}
	if len(missing) == 0 {
		return nil
	}
	msg := fmt.Sprintf("Model.meta is missing values for [%s]", strings.Join(missing, ", "))
	if m.opts.strict {
		return fmt.Errorf("stdatamodels: %s", msg)
	}
	m.opts.logger.Warn(msg, "model_type", m.typ.Name)
	return nil
}

func (m *DataModel) has(path string) bool {
	_, ok := lookup(m.tree, splitPath(path))
	return ok
}
