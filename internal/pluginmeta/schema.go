package pluginmeta

// descriptorSchema encodes the structural invariants of PluginMetadata
// (spec.md §3) as a JSON Schema: required fields, types, length bounds,
// the id pattern and the leading "/" of route. It is validated before the
// Go-level checks in metadata.go run, which add what the schema does not
// express (route traversal, an alphanumeric character in the id, filename
// stem match).
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "route"],
  "properties": {
    "id": {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9-]+$"},
    "name": {"type": "string", "maxLength": 100},
    "version": {"type": "string"},
    "author": {"type": "string", "maxLength": 100},
    "icon": {"type": "string"},
    "route": {"type": "string", "minLength": 1, "pattern": "^/"}
  },
  "additionalProperties": true
}`
