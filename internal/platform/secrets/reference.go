package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference is a parsed secret://name[?version=N&project=P] URI. sm:// is accepted as an
// alias and canonicalised to secret://.
type Reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

// ParseReference validates ref and splits out the optional version and project.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	q := u.Query()
	return Reference{
		Canonical: "secret://" + name,
		Secret:    name,
		Version:   strings.TrimSpace(q.Get("version")),
		Project:   strings.TrimSpace(q.Get("project")),
	}, nil
}

// resourceName is the Secret Manager version resource for the reference.
func (r Reference) resourceName(project, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Secret, version)
}

func versionKey(canonical, version string) string {
	return canonical + "#" + version
}
