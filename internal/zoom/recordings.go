package zoom

import (
	"context"
	"fmt"
	"strconv"
)

const (
	defaultPageSize = 30
	maxPageSize     = 300
)

// GetMeeting fetches a meeting's details, used to recover the topic for
// meetings the pipeline has never seen.
func (c *Client) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var meeting Meeting
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetPathParam("meetingId", meetingID).
		SetSuccessResult(&meeting).
		Get("/meetings/{meetingId}")

	if err := handleAPIError(resp, err, "get meeting"); err != nil {
		return nil, err
	}

	return &meeting, nil
}

// GetMeetingRecordings fetches the recording set of a single meeting.
func (c *Client) GetMeetingRecordings(ctx context.Context, meetingID string) (*MeetingRecordings, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var recs MeetingRecordings
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetPathParam("meetingId", meetingID).
		SetSuccessResult(&recs).
		Get("/meetings/{meetingId}/recordings")

	if err := handleAPIError(resp, err, "get meeting recordings"); err != nil {
		return nil, err
	}

	return &recs, nil
}

// ListRecordingsParams bounds one page of the account recordings listing.
type ListRecordingsParams struct {
	UserID        string // defaults to "me"
	From          string // YYYY-MM-DD
	To            string // YYYY-MM-DD
	PageSize      int
	NextPageToken string
}

// ListRecordings fetches one page of recordings in a date window. Callers
// iterate with NextPageToken until it comes back empty.
func (c *Client) ListRecordings(ctx context.Context, params *ListRecordingsParams) (*RecordingsPage, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	userID := params.UserID
	if userID == "" {
		userID = "me"
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	r := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetPathParam("userId", userID).
		SetQueryParam("from", params.From).
		SetQueryParam("to", params.To).
		SetQueryParam("page_size", strconv.Itoa(pageSize))

	if params.NextPageToken != "" {
		r.SetQueryParam("next_page_token", params.NextPageToken)
	}

	var page RecordingsPage
	resp, err := r.SetSuccessResult(&page).Get("/users/{userId}/recordings")

	if err := handleAPIError(resp, err, fmt.Sprintf("list recordings %s..%s", params.From, params.To)); err != nil {
		return nil, err
	}

	return &page, nil
}
