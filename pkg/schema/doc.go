// Package schema describes and checks the type-specific keys of a flow node.
//
// A behavior declares the keys it needs as a Schema, mapping key names to a Field:
//
//	var textSchema = schema.Schema{
//	    "key_to_save": schema.Required(schema.String()),
//	    "min_words":   schema.Optional(schema.NonNegativeInt()),
//	}
//
//	if err := schema.Validate(textSchema, node.Raw); err != nil {
//	    // err is an *AggregateError listing every offending key
//	}
//
// Values come from decoded JSON or YAML documents, so numeric types accept
// json.Number, whole float64 values and native ints alike. Decode maps the same
// document onto a typed config struct using mapstructure tags.
package schema
