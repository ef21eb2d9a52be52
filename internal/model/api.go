package model

// PackageInfo represents the package information for API responses
type PackageInfo struct {
	Descriptor string `json:"descriptor"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Author     string `json:"author"`
	Types      string `json:"types"`
	Size       int64  `json:"size"`
	Commit     string `json:"commit,omitempty"`
	Download   string `json:"download"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// PackageListVersion is the body of the package-list-version endpoint
type PackageListVersion struct {
	Version   int64 `json:"version"`
	UpdatedAt int64 `json:"updatedAt"`
}
