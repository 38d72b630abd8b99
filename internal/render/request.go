// Package render composes the post image and its portrait reframe.
package render

// Placeholders used when a text field is empty.
const (
	PlaceholderTitle  = "Profile Title"
	PlaceholderHandle = "username"
	PlaceholderBody   = "Post text"
)

// Request carries the user-supplied content of one post.
type Request struct {
	Title           string
	Handle          string
	Body            string
	AvatarRef       string
	FeatureImageRef string
}

func (r Request) title() string {
	if r.Title == "" {
		return PlaceholderTitle
	}
	return r.Title
}

func (r Request) handle() string {
	if r.Handle == "" {
		return "@" + PlaceholderHandle
	}
	return "@" + r.Handle
}

func (r Request) body() string {
	if r.Body == "" {
		return PlaceholderBody
	}
	return r.Body
}

// Layer identifies an optional image layer.
type Layer string

const (
	LayerAvatar  Layer = "avatar"
	LayerFeature Layer = "feature"
)

// LayerStatus is the outcome of one optional layer.
type LayerStatus string

const (
	LayerApplied LayerStatus = "applied"
	LayerSkipped LayerStatus = "skipped"
	LayerFailed  LayerStatus = "failed"
)

// LayerResult records what happened to an optional layer. Err is set only
// when Status is LayerFailed.
type LayerResult struct {
	Layer  Layer
	Status LayerStatus
	Err    error
}

// Result is a rendered post.
type Result struct {
	PNG    []byte
	Layers []LayerResult
}

// Layer returns the result for l, or a skipped result if absent.
func (r *Result) Layer(l Layer) LayerResult {
	for _, lr := range r.Layers {
		if lr.Layer == l {
			return lr
		}
	}
	return LayerResult{Layer: l, Status: LayerSkipped}
}
