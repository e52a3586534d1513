// Support JSON encoded schema definitions.

package vcodec

import (
	"encoding/json"
)

func (self *StructDefinition) UnmarshalJSON(p []byte) error {
	var values []interface{}
	if err := json.Unmarshal(p, &values); err != nil {
		return err
	}
	return self.decode(values)
}

func (self *EnumDefinition) UnmarshalJSON(p []byte) error {
	var values []interface{}
	if err := json.Unmarshal(p, &values); err != nil {
		return err
	}
	return self.decode(values)
}

func (self *BitStructDefinition) UnmarshalJSON(p []byte) error {
	var values []interface{}
	if err := json.Unmarshal(p, &values); err != nil {
		return err
	}
	return self.decode(values)
}

func (self *LayoutDefinition) UnmarshalJSON(p []byte) error {
	var values []interface{}
	if err := json.Unmarshal(p, &values); err != nil {
		return err
	}
	return self.decode(values)
}
