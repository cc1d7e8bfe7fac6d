package analysis

import (
	"encoding/json"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/model"
)

// rawVersion is the shape of one entry in RawPackageDoc.Versions, loose
// enough to absorb the registry's two historical encodings of repository
// (bare string or {type,url} object) and bundledDependencies (bool or
// array of package names).
type rawVersion struct {
	Name                string          `json:"name"`
	Version             string          `json:"version"`
	Description         string          `json:"description"`
	Repository          json.RawMessage `json:"repository"`
	GitHead             string          `json:"gitHead"`
	Dist                struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
	License             json.RawMessage   `json:"license"`
	Keywords            []string          `json:"keywords"`
	Scripts             map[string]string `json:"scripts"`
	Dependencies        map[string]string `json:"dependencies"`
	DevDependencies     map[string]string `json:"devDependencies"`
	BundledDependencies json.RawMessage   `json:"bundledDependencies"`
	Readme              string            `json:"readme"`
	Homepage            string            `json:"homepage"`
}

// buildManifest picks the dist-tags["latest"] version out of raw and
// normalizes it into a Manifest, per the registry's two legacy encodings
// of repository and bundledDependencies. Returns errkind.ManifestInvalid
// when no latest version can be resolved, and errkind.NameMismatch when
// the resolved manifest's name disagrees with requestedName.
func buildManifest(raw model.RawPackageDoc, requestedName string) (model.Manifest, error) {
	latestVersion, ok := raw.DistTags["latest"]
	if !ok {
		return model.Manifest{}, errkind.New(errkind.ManifestInvalid, "raw package doc has no dist-tags.latest")
	}
	body, ok := raw.Versions[latestVersion]
	if !ok {
		return model.Manifest{}, errkind.New(errkind.ManifestInvalid, "no version entry for "+latestVersion)
	}

	var rv rawVersion
	if err := json.Unmarshal(body, &rv); err != nil {
		return model.Manifest{}, errkind.Wrap(errkind.ManifestInvalid, err)
	}

	m := model.Manifest{
		Name:                rv.Name,
		Version:             rv.Version,
		Description:         rv.Description,
		Repository:          parseRepository(rv.Repository),
		GitHead:             rv.GitHead,
		DistTarball:         rv.Dist.Tarball,
		License:             parseLicense(rv.License),
		Keywords:            rv.Keywords,
		Scripts:             rv.Scripts,
		Dependencies:        rv.Dependencies,
		DevDependencies:     rv.DevDependencies,
		BundledDependencies: parseBundledDependencies(rv.BundledDependencies, rv.Dependencies),
		Readme:              rv.Readme,
		Homepage:            rv.Homepage,
	}
	m.Normalize(requestedName)

	if m.Name != requestedName {
		return model.Manifest{}, errkind.New(errkind.NameMismatch,
			"registry manifest name "+m.Name+" does not match requested "+requestedName)
	}
	return m, nil
}

// parseRepository absorbs both the modern {type,url} object and the
// legacy bare-string encoding npm manifests have carried over the years.
func parseRepository(raw json.RawMessage) model.Repository {
	if len(raw) == 0 {
		return model.Repository{}
	}
	var obj model.Repository
	if json.Unmarshal(raw, &obj) == nil && obj.URL != "" {
		return obj
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		return model.Repository{Type: "git", URL: s}
	}
	return model.Repository{}
}

// parseLicense absorbs the legacy {type,url} license object alongside the
// modern bare SPDX string.
func parseLicense(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Type
	}
	return ""
}

// parseBundledDependencies absorbs the array-of-names encoding and the
// legacy bool encoding, where `true` means "all direct dependencies are
// bundled".
func parseBundledDependencies(raw json.RawMessage, deps map[string]string) []string {
	if len(raw) == 0 {
		return nil
	}
	var names []string
	if json.Unmarshal(raw, &names) == nil {
		return names
	}
	var all bool
	if json.Unmarshal(raw, &all) == nil && all {
		names = make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		return names
	}
	return nil
}
