package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/analyzerhost/internal/plugin/bundle"
	"github.com/dshills/analyzerhost/internal/version"
)

// Manifest field names in plugin.json.
const (
	FieldKey                  = "key"
	FieldName                 = "name"
	FieldDescription          = "description"
	FieldVersion              = "version"
	FieldEntryPoint           = "entryPoint"
	FieldBasePlugin           = "basePlugin"
	FieldRequirePlugins       = "requirePlugins"
	FieldMinHostAPIVersion    = "minHostApiVersion"
	FieldMinRuntimeVersion    = "minRuntimeVersion"
	FieldMinAuxRuntimeVersion = "minAuxRuntimeVersion"
	FieldLanguages            = "languages"
	FieldEmbeddedResources    = "embeddedResources"
)

// keyPattern validates plugin keys.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// modulePattern validates dotted Lua module names used as entry points.
var modulePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Parse reads the manifest of the bundle at bundlePath and builds its
// descriptor. Any failure is returned as a *ManifestError.
func Parse(bundlePath string) (*Descriptor, error) {
	a, err := bundle.Open(bundlePath)
	if err != nil {
		return nil, &ManifestError{Path: bundlePath, Err: err}
	}
	defer a.Close()

	data, err := a.ReadFile(bundle.ManifestName)
	if err != nil {
		return nil, &ManifestError{Path: bundlePath, Err: err}
	}
	d, err := ParseManifest(data)
	if err != nil {
		return nil, &ManifestError{Path: bundlePath, Err: err}
	}
	for _, res := range d.EmbeddedResources {
		if !a.Has(res) {
			return nil, &ManifestError{Path: bundlePath, Err: fmt.Errorf("%w: embedded resource %s", bundle.ErrNotFound, res)}
		}
	}
	d.BundlePath = bundlePath
	return d, nil
}

// ParseManifest builds a descriptor from raw plugin.json content.
func ParseManifest(data []byte) (*Descriptor, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidField, bundle.ManifestName)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: %s must be an object", ErrInvalidField, bundle.ManifestName)
	}

	key, err := requiredString(root, FieldKey)
	if err != nil {
		return nil, err
	}
	if !keyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	rawVersion, err := requiredString(root, FieldVersion)
	if err != nil {
		return nil, err
	}
	v, err := version.Parse(rawVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, FieldVersion, err)
	}

	entry, err := requiredString(root, FieldEntryPoint)
	if err != nil {
		return nil, err
	}
	if !modulePattern.MatchString(entry) {
		return nil, fmt.Errorf("%w: %s %q is not a module name", ErrInvalidField, FieldEntryPoint, entry)
	}

	d := &Descriptor{
		Key:         key,
		Version:     v,
		EntryPoint:  entry,
		Name:        optionalString(root, FieldName),
		Description: optionalString(root, FieldDescription),
		BasePlugin:  optionalString(root, FieldBasePlugin),
	}
	if d.BasePlugin == d.Key {
		return nil, fmt.Errorf("%w: %s cannot reference the plugin itself", ErrInvalidField, FieldBasePlugin)
	}

	requires, err := stringList(root, FieldRequirePlugins)
	if err != nil {
		return nil, err
	}
	for _, r := range requires {
		req, err := parseRequiredPlugin(r)
		if err != nil {
			return nil, err
		}
		d.Required = append(d.Required, req)
	}

	if d.MinHostAPI, err = optionalVersion(root, FieldMinHostAPIVersion); err != nil {
		return nil, err
	}
	if d.MinRuntime, err = optionalVersion(root, FieldMinRuntimeVersion); err != nil {
		return nil, err
	}
	if d.MinAuxRuntime, err = optionalVersion(root, FieldMinAuxRuntimeVersion); err != nil {
		return nil, err
	}

	langs, err := stringList(root, FieldLanguages)
	if err != nil {
		return nil, err
	}
	for _, l := range langs {
		d.Languages = append(d.Languages, Language(strings.ToLower(l)))
	}

	if d.EmbeddedResources, err = stringList(root, FieldEmbeddedResources); err != nil {
		return nil, err
	}
	for _, res := range d.EmbeddedResources {
		if !bundle.ValidEntryName(res) {
			return nil, fmt.Errorf("%w: %s: %s escapes the bundle", ErrInvalidField, FieldEmbeddedResources, res)
		}
	}

	return d, nil
}

func requiredString(root gjson.Result, field string) (string, error) {
	r := root.Get(field)
	if !r.Exists() {
		return "", fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	if r.Type != gjson.String {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidField, field)
	}
	s := strings.TrimSpace(r.String())
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return s, nil
}

func optionalString(root gjson.Result, field string) string {
	return strings.TrimSpace(root.Get(field).String())
}

func optionalVersion(root gjson.Result, field string) (*version.Version, error) {
	s := optionalString(root, field)
	if s == "" {
		return nil, nil
	}
	v, err := version.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, field, err)
	}
	return &v, nil
}

func stringList(root gjson.Result, field string) ([]string, error) {
	r := root.Get(field)
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidField, field)
	}
	var out []string
	for _, item := range r.Array() {
		if item.Type != gjson.String {
			return nil, fmt.Errorf("%w: %s must only hold strings", ErrInvalidField, field)
		}
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// parseRequiredPlugin parses "key" or "key:minVersion".
func parseRequiredPlugin(s string) (RequiredPlugin, error) {
	key, minVersion, _ := strings.Cut(s, ":")
	req := RequiredPlugin{Key: strings.TrimSpace(key), MinVersion: strings.TrimSpace(minVersion)}
	if !keyPattern.MatchString(req.Key) {
		return RequiredPlugin{}, fmt.Errorf("%w: %s entry %q", ErrInvalidKey, FieldRequirePlugins, s)
	}
	if req.MinVersion != "" {
		if _, err := version.Parse(req.MinVersion); err != nil {
			return RequiredPlugin{}, fmt.Errorf("%w: %s entry %q: %v", ErrInvalidField, FieldRequirePlugins, s, err)
		}
	}
	return req, nil
}
