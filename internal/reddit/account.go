package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Identity is the account behind a user token
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity fetches the username of the token's owner
func (c *Client) Identity(ctx context.Context, token string) (*Identity, error) {
	var id Identity
	if err := c.get(ctx, "me", "", token, "/api/v1/me", nil, &id); err != nil {
		return nil, err
	}
	if id.Name == "" {
		return nil, malformed("me", "", "name missing")
	}
	return &id, nil
}

// SubmittedComment identifies a comment created by SubmitComment
type SubmittedComment struct {
	ID        string
	Fullname  string
	Permalink string
}

type commentResponse struct {
	JSON struct {
		Errors [][]interface{} `json:"errors"`
		Data   *struct {
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// SubmitComment posts text as a reply to parentFullname (t3_ post or t1_ comment)
func (c *Client) SubmitComment(ctx context.Context, token, parentFullname, text string) (*SubmittedComment, error) {
	if !strings.HasPrefix(parentFullname, kindPost+"_") && !strings.HasPrefix(parentFullname, kindComment+"_") {
		return nil, fmt.Errorf("invalid parent fullname %q", parentFullname)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("comment text is empty")
	}

	form := url.Values{
		"api_type": {"json"},
		"text":     {text},
		"thing_id": {parentFullname},
	}
	var resp commentResponse
	if err := c.post(ctx, "comment", token, "/api/comment", form, &resp); err != nil {
		return nil, err
	}

	// errors are [code, message, field] triples
	if len(resp.JSON.Errors) > 0 {
		msg := fmt.Sprint(resp.JSON.Errors[0])
		if len(resp.JSON.Errors[0]) > 1 {
			msg = fmt.Sprint(resp.JSON.Errors[0][1])
		}
		return nil, &APIError{Op: "comment", StatusCode: 200, Body: msg, Err: ErrCommentRejected}
	}

	submitted := &SubmittedComment{}
	if resp.JSON.Data != nil && len(resp.JSON.Data.Things) > 0 {
		node, err := decodeNode(resp.JSON.Data.Things[0])
		if err == nil && node.Kind == NodeReply {
			submitted.ID = node.Comment.ID
			submitted.Fullname = node.Comment.Fullname
			submitted.Permalink = node.Comment.Permalink
		}
	}
	c.cfg.Logger.Infow("Comment posted", "parent", parentFullname, "id", submitted.ID)
	return submitted, nil
}
