package vcodec

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Velocidex/ordereddict"
)

// Option structs tag their fields with this name to control parsing,
// e.g. `vcodec:"required,field=type,doc=The underlying type"`
const tagName = "vcodec"

func getTag(field reflect.StructField) map[string]string {
	options := make(map[string]string)

	tag := field.Tag.Get(tagName)

	// Skip if tag is not defined or ignored
	if tag == "" || tag == "-" {
		return nil
	}

	directives := strings.Split(tag, ",")
	for _, directive := range directives {
		if strings.Contains(directive, "=") {
			components := strings.SplitN(directive, "=", 2)
			options[components[0]] = components[1]
		} else {
			options[directive] = "Y"
		}
	}

	return options
}

// ParseOptions fills the tagged fields of target from args. Unknown
// keys in args are an error so typos in schemas are caught at load
// time.
func ParseOptions(args *ordereddict.Dict, target interface{}) error {
	v := reflect.ValueOf(target)
	t := v.Type()

	if t.Kind() == reflect.Ptr {
		v = v.Elem()
		t = v.Type()
	}

	if t.Kind() != reflect.Struct {
		return errors.New("Only structs can be set with ParseOptions()")
	}

	if args == nil {
		args = ordereddict.NewDict()
	}

	args_specified := make(map[string]bool)
	for _, k := range args.Keys() {
		args_specified[k] = true
	}

	for i := 0; i < v.NumField(); i++ {
		// Get the field tag value
		field_types_value := t.Field(i)
		options := getTag(field_types_value)
		if options == nil {
			continue
		}

		// Is the name specified in the tag?
		field_name, pres := options["field"]
		if !pres {
			field_name = field_types_value.Name
		}

		field_value := v.Field(i)
		if !field_value.IsValid() || !field_value.CanSet() {
			return fmt.Errorf("Field %s is unsettable.", field_name)
		}

		field_data, pres := args.Get(field_name)
		if !pres {
			_, required := options["required"]
			if required {
				return fmt.Errorf("Field %v is required", field_name)
			}
			continue
		}
		delete(args_specified, field_name)

		err := setOption(field_value, field_types_value, field_name, field_data)
		if err != nil {
			return err
		}
	}

	// Report any unexpected parameters
	if len(args_specified) > 0 {
		var extras []string
		for k := range args_specified {
			extras = append(extras, k)
		}
		sort.Strings(extras)
		return fmt.Errorf("Unexpected parameters provided: %v", extras)
	}

	return nil
}

func setOption(field_value reflect.Value, field_type reflect.StructField,
	field_name string, field_data interface{}) error {

	switch field_type.Type.String() {

	case "string":
		str, ok := field_data.(string)
		if ok {
			field_value.Set(reflect.ValueOf(str))
			return nil
		}
		return fmt.Errorf("field %v: Expecting a string not %T",
			field_name, field_data)

	case "int64":
		a, ok := to_int64(field_data)
		if ok {
			field_value.Set(reflect.ValueOf(a))
			return nil
		}
		return fmt.Errorf("field %v: Expecting an integer not %T",
			field_name, field_data)

	case "int":
		a, ok := to_int64(field_data)
		if ok {
			field_value.Set(reflect.ValueOf(int(a)))
			return nil
		}
		return fmt.Errorf("field %v: Expecting an integer not %T",
			field_name, field_data)

	case "uint64":
		a, ok := to_int64(field_data)
		if ok {
			field_value.Set(reflect.ValueOf(uint64(a)))
			return nil
		}
		return fmt.Errorf("field %v: Expecting an integer not %T",
			field_name, field_data)

	case "bool":
		switch t := field_data.(type) {
		case string:
			field_value.Set(reflect.ValueOf(
				t == "true" || t == "yes" || t == "Y" || t == "1"))
			return nil
		}
		a, ok := to_int64(field_data)
		if ok {
			field_value.Set(reflect.ValueOf(a > 0))
			return nil
		}
		return fmt.Errorf("field %v: Expecting a bool not %T",
			field_name, field_data)

	case "*string":
		str, ok := field_data.(string)
		if ok {
			x := reflect.New(field_value.Type().Elem())
			x.Elem().Set(reflect.ValueOf(str))
			field_value.Set(x)
			return nil
		}
		return fmt.Errorf("field %v: Expecting a string not %T",
			field_name, field_data)

	case "*int64":
		a, ok := to_int64(field_data)
		if ok {
			x := reflect.New(field_value.Type().Elem())
			x.Elem().Set(reflect.ValueOf(a))
			field_value.Set(x)
			return nil
		}
		return fmt.Errorf("field %v: Expecting an integer not %T",
			field_name, field_data)

	case "[]string":
		var result []string
		switch t := field_data.(type) {
		case string:
			for _, item := range strings.Split(t, ",") {
				item = strings.TrimSpace(item)
				if item != "" {
					result = append(result, item)
				}
			}
		case []string:
			result = t
		case []interface{}:
			for _, item := range t {
				str, ok := item.(string)
				if !ok {
					return fmt.Errorf("field %v: Expecting a list of strings not %T",
						field_name, item)
				}
				result = append(result, str)
			}
		default:
			return fmt.Errorf("field %v: Expecting a list of strings not %T",
				field_name, field_data)
		}
		field_value.Set(reflect.ValueOf(result))
		return nil

	case "*ordereddict.Dict":
		dict, err := to_ordereddict(field_data)
		if err != nil {
			return fmt.Errorf("field %v: Expecting a mapping: %v",
				field_name, err)
		}
		field_value.Set(reflect.ValueOf(dict))
		return nil

	case "vcodec.Expression":
		expression, err := CompileExpression(field_data)
		if err != nil {
			return fmt.Errorf("field %v: %w", field_name, err)
		}
		field_value.Set(reflect.ValueOf(&expression).Elem())
		return nil

	case "interface {}":
		field_value.Set(reflect.ValueOf(&field_data).Elem())
		return nil
	}

	return fmt.Errorf("Unable to handle field type %v", field_type.Type.String())
}
