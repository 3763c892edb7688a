package v2

import "fmt"

// URLBuilder constructs the canonical path for each route, used for
// Location and Link headers. A real deployment may sit behind a path
// prefix or external hostname; spec.md's endpoint table is prefix-free,
// so this builder emits bare "/v2/..." paths and lets a reverse proxy
// rewrite externally as needed.
type URLBuilder struct{}

// NewURLBuilder returns a URLBuilder.
func NewURLBuilder() *URLBuilder { return &URLBuilder{} }

func (b *URLBuilder) BuildManifestURL(name, reference string) string {
	return fmt.Sprintf("/v2/%s/manifests/%s", name, reference)
}

func (b *URLBuilder) BuildBlobURL(name, digest string) string {
	return fmt.Sprintf("/v2/%s/blobs/%s", name, digest)
}

func (b *URLBuilder) BuildBlobUploadURL(name string) string {
	return fmt.Sprintf("/v2/%s/blobs/uploads/", name)
}

func (b *URLBuilder) BuildBlobUploadChunkURL(name, uuid string) string {
	return fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, uuid)
}

func (b *URLBuilder) BuildTagsURL(name string) string {
	return fmt.Sprintf("/v2/%s/tags/list", name)
}

func (b *URLBuilder) BuildCatalogURL() string {
	return "/v2/_catalog"
}
