package scanning

// ScanRequest is the public payload submitted to start a scan. Validation runs
// at the orchestration boundary before any persistence happens.
type ScanRequest struct {
	// Image is the repository name, e.g. "library/nginx".
	Image string `json:"image" validate:"required"`

	// Tag selects the image version, e.g. "latest".
	Tag string `json:"tag" validate:"required"`

	// Source selects where the image is acquired from: "local" or "registry".
	Source string `json:"source" validate:"omitempty,oneof=local registry"`

	// Registry optionally overrides the registry host for registry-sourced
	// scans, e.g. "ghcr.io".
	Registry string `json:"registry,omitempty"`
}

// ImageRef returns the full image reference including the registry host when
// one was supplied.
func (r ScanRequest) ImageRef() string {
	ref := r.Image + ":" + r.Tag
	if r.Registry != "" {
		return r.Registry + "/" + ref
	}
	return ref
}

// SourceType returns the parsed image source, defaulting to registry.
func (r ScanRequest) SourceType() ImageSource { return ParseImageSource(r.Source) }
