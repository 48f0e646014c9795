package dom

import "github.com/armoryops/armorylink/internal/domain"

// Visible reports whether an element is actually rendered: non-zero
// layout box and not hidden by computed style.
func Visible(n domain.Node) bool {
	if n == nil {
		return false
	}

	layout := n.Layout()
	if layout.Width <= 0 || layout.Height <= 0 {
		return false
	}
	if layout.Display == "none" || layout.Visibility == "hidden" {
		return false
	}
	if layout.Opacity == 0 {
		return false
	}
	return true
}

// FirstVisible returns the first visible node of a match list, or nil.
func FirstVisible(nodes []domain.Node) domain.Node {
	for _, n := range nodes {
		if Visible(n) {
			return n
		}
	}
	return nil
}
