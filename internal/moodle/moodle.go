// Package moodle is the LMS client: form-encoded web-service calls for
// course lookup, forum listing, and discussion creation.
package moodle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aulacast/aulacast/internal/utils"
	"github.com/imroc/req/v3"
)

// Web service functions used by the pipeline.
const (
	wsGetCourses         = "core_course_get_courses"
	wsGetCoursesByField  = "core_course_get_courses_by_field"
	wsSearchCourses      = "core_course_search_courses"
	wsGetForumsByCourses = "mod_forum_get_forums_by_courses"
	wsAddDiscussion      = "mod_forum_add_discussion"
)

// Client talks to the LMS web service.
type Client struct {
	cfg  *Config
	http *req.Client
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal)

	return &Client{
		cfg:  cfg,
		http: client,
	}, nil
}

// call invokes one web service function. The LMS answers HTTP 200 even for
// failures and signals them with an exception body, so the raw bytes are
// inspected before decoding into out.
func (c *Client) call(ctx context.Context, wsfunction string, params map[string]string, out any) error {
	form := map[string]string{
		"wstoken":            c.cfg.Token,
		"wsfunction":         wsfunction,
		"moodlewsrestformat": "json",
	}
	for k, v := range params {
		form[k] = v
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.cfg.ServicePath)
	if err != nil {
		return fmt.Errorf("http request error: %s: %w", wsfunction, err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("lms error: %s: status %d: %s", wsfunction, resp.GetStatusCode(), resp.String())
	}

	body := resp.Bytes()

	if wsErr := parseWSError(body); wsErr != nil {
		return fmt.Errorf("%s: %w", wsfunction, wsErr)
	}

	if out == nil {
		return nil
	}
	if err := utils.JSONUnmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", wsfunction, err)
	}
	return nil
}

// GetAllCourses lists every course visible to the web-service user. Feeds
// the resolver's exact-match pass; cached by the caller.
func (c *Client) GetAllCourses(ctx context.Context) ([]Course, error) {
	var courses []Course
	if err := c.call(ctx, wsGetCourses, nil, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// GetCoursesByField looks up courses where field (fullname, shortname, id,
// idnumber) equals value.
func (c *Client) GetCoursesByField(ctx context.Context, field, value string) ([]Course, error) {
	var resp coursesByFieldResponse
	err := c.call(ctx, wsGetCoursesByField, map[string]string{
		"field": field,
		"value": value,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

// SearchCourses runs a free-text course search.
func (c *Client) SearchCourses(ctx context.Context, query string) ([]Course, error) {
	var resp searchCoursesResponse
	err := c.call(ctx, wsSearchCourses, map[string]string{
		"criterianame":  "search",
		"criteriavalue": query,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

// GetCourseForums lists the forums of a course.
func (c *Client) GetCourseForums(ctx context.Context, courseID int64) ([]Forum, error) {
	var forums []Forum
	err := c.call(ctx, wsGetForumsByCourses, map[string]string{
		"courseids[0]": strconv.FormatInt(courseID, 10),
	}, &forums)
	if err != nil {
		return nil, err
	}
	return forums, nil
}

// AddDiscussion creates a new top-level discussion and returns its id.
// The message is HTML.
func (c *Client) AddDiscussion(ctx context.Context, forumID int64, subject, messageHTML string) (int64, error) {
	var resp addDiscussionResponse
	err := c.call(ctx, wsAddDiscussion, map[string]string{
		"forumid": strconv.FormatInt(forumID, 10),
		"subject": subject,
		"message": messageHTML,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.DiscussionID == 0 {
		return 0, fmt.Errorf("%s: no discussion id returned", wsAddDiscussion)
	}
	return resp.DiscussionID, nil
}
