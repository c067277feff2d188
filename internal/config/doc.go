// Package config loads cache configuration from YAML or CUE files.
//
// Both formats describe the same document:
//
//	dev_logging: true
//	structural_sharing: true
//	identity:
//	  type_field: __typename
//	  id_field: id
//	  types: [user, post]
//
// CUE files are unified with the embedded #Config schema, which also
// supplies the defaults. YAML files are decoded over Default().
package config
