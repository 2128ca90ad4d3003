package reddit

import "encoding/json"

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type linkData struct {
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Title       string  `json:"title"`
	Subreddit   string  `json:"subreddit"`
	SubredditID string  `json:"subreddit_id"`
	Permalink   string  `json:"permalink"`
}

type commentData struct {
	Name       string  `json:"name"`
	Author     string  `json:"author"`
	LinkID     string  `json:"link_id"`
	LinkAuthor string  `json:"link_author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

type messageData struct {
	Name    string `json:"name"`
	Author  string `json:"author"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	New     bool   `json:"new"`
}

type apiResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}
