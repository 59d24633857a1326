package models

// DeliverableDescriptor is one configured digital product: a human-readable
// name plus exactly one source, either a remote URL or a local file path.
type DeliverableDescriptor struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SourceKey returns the single configured source location, used as part of
// the deduplication key. Valid descriptors have exactly one of URL/Path set;
// IsValid guards that at configuration load time.
func (d DeliverableDescriptor) SourceKey() string {
	if d.URL != "" {
		return d.URL
	}
	return d.Path
}

// IsValid reports whether the descriptor has a name and exactly one source.
func (d DeliverableDescriptor) IsValid() bool {
	if d.Name == "" {
		return false
	}
	return (d.URL != "") != (d.Path != "")
}
