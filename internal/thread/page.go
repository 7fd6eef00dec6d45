package thread

// CommentsPerPage partitions the top-level sequence only; replies are never
// paginated, just lazily revealed.
const CommentsPerPage = 8

const (
	revealInitial = 1
	revealStep    = 2
)

// Page is one pagination window over the sorted top-level sequence. Page
// changes are pure presentation transitions; no re-fetch is involved.
type Page struct {
	Comments   []Comment
	Number     int
	TotalPages int
	Total      int
}

func Paginate(comments []Comment, page int) Page {
	total := len(comments)
	totalPages := (total + CommentsPerPage - 1) / CommentsPerPage
	if page < 1 {
		page = 1
	}
	start := (page - 1) * CommentsPerPage
	if start > total {
		start = total
	}
	end := start + CommentsPerPage
	if end > total {
		end = total
	}
	return Page{
		Comments:   comments[start:end],
		Number:     page,
		TotalPages: totalPages,
		Total:      total,
	}
}

// RevealWindow tracks how many replies of one list are rendered. It starts
// at one, grows by two per "load more", never shrinks and never exceeds the
// reply count. Presentation state only; it resets with its render context.
type RevealWindow struct {
	visible int
	total   int
}

func NewRevealWindow(total int) RevealWindow {
	visible := revealInitial
	if visible > total {
		visible = total
	}
	return RevealWindow{visible: visible, total: total}
}

func (w *RevealWindow) More() {
	w.visible += revealStep
	if w.visible > w.total {
		w.visible = w.total
	}
}

func (w RevealWindow) Visible() int { return w.visible }

// Exhausted reports whether every reply is revealed, hiding the button.
func (w RevealWindow) Exhausted() bool { return w.visible >= w.total }

// Window slices a reply list to the revealed prefix.
func (w RevealWindow) Window(replies []Comment) []Comment {
	if w.visible >= len(replies) {
		return replies
	}
	return replies[:w.visible]
}
