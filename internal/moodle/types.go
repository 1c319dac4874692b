package moodle

// Course is a course row as returned by the LMS lookup functions.
type Course struct {
	ID          int64  `json:"id"`
	Fullname    string `json:"fullname"`
	Shortname   string `json:"shortname"`
	Displayname string `json:"displayname"`
	CategoryID  int64  `json:"categoryid,omitempty"`
	Visible     int    `json:"visible,omitempty"`
}

// Forum is a discussion container within a course.
type Forum struct {
	ID     int64  `json:"id"`
	Course int64  `json:"course"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Intro  string `json:"intro,omitempty"`
}

type coursesByFieldResponse struct {
	Courses  []Course  `json:"courses"`
	Warnings []warning `json:"warnings,omitempty"`
}

type searchCoursesResponse struct {
	Total   int      `json:"total"`
	Courses []Course `json:"courses"`
}

type addDiscussionResponse struct {
	DiscussionID int64     `json:"discussionid"`
	Warnings     []warning `json:"warnings,omitempty"`
}

type warning struct {
	Item        string `json:"item,omitempty"`
	WarningCode string `json:"warningcode,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Forum names checked, in order, when picking the publication target.
const PreferredForumName = "Clases Grabadas"

var fallbackForumNames = []string{"Anuncios", "Announcements", "News forum"}

// PickForum chooses the forum that receives recording announcements:
// the preferred name if present, else one of the usual announcement names,
// else the first forum the course has.
func PickForum(forums []Forum) (*Forum, bool) {
	if len(forums) == 0 {
		return nil, false
	}

	for i := range forums {
		if forums[i].Name == PreferredForumName {
			return &forums[i], true
		}
	}

	for _, name := range fallbackForumNames {
		for i := range forums {
			if forums[i].Name == name {
				return &forums[i], true
			}
		}
	}

	return &forums[0], true
}
