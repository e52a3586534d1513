package vcodec

func (self *StructDefinition) UnmarshalYAML(unmarshal func(v interface{}) error) error {
	var values []interface{}
	err := unmarshal(&values)
	if err != nil {
		return err
	}
	return self.decode(values)
}

func (self *EnumDefinition) UnmarshalYAML(unmarshal func(v interface{}) error) error {
	var values []interface{}
	err := unmarshal(&values)
	if err != nil {
		return err
	}
	return self.decode(values)
}

func (self *BitStructDefinition) UnmarshalYAML(unmarshal func(v interface{}) error) error {
	var values []interface{}
	err := unmarshal(&values)
	if err != nil {
		return err
	}
	return self.decode(values)
}

func (self *LayoutDefinition) UnmarshalYAML(unmarshal func(v interface{}) error) error {
	var values []interface{}
	err := unmarshal(&values)
	if err != nil {
		return err
	}
	return self.decode(values)
}
