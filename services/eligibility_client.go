// ranked-match-system/services/eligibility_client.go
package services

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"ranked-match-system/utils"
)

// EligibilityClient talks to the moderation service. The orchestrator only
// consumes two yes/no questions; policy lives on the other side.
type EligibilityClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type eligibilityResponse struct {
	CanPlayRanked bool `json:"can_play_ranked"`
	CanUseChat    bool `json:"can_use_chat"`
}

func NewEligibilityClient(baseURL, token string) *EligibilityClient {
	return &EligibilityClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

func (c *EligibilityClient) fetch(participantID string) (*eligibilityResponse, error) {
	url := fmt.Sprintf("%s/moderation/players/%s/eligibility", c.BaseURL, participantID)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("ModerationService /eligibility returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("eligibility lookup failed: %d", resp.StatusCode)
	}

	var out eligibilityResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CanPlayRanked answers whether the participant may queue for ranked play.
// Fails open when the moderation service is unreachable so an outage there
// does not take ranked play down with it.
func (c *EligibilityClient) CanPlayRanked(participantID string) bool {
	out, err := c.fetch(participantID)
	if err != nil {
		log.Printf("⚠️ [ELIGIBILITY] lookup failed for %s, allowing: %v", participantID, err)
		return true
	}
	return out.CanPlayRanked
}

// CanUseChat answers whether the participant may use match chat.
func (c *EligibilityClient) CanUseChat(participantID string) bool {
	out, err := c.fetch(participantID)
	if err != nil {
		log.Printf("⚠️ [ELIGIBILITY] lookup failed for %s, allowing: %v", participantID, err)
		return true
	}
	return out.CanUseChat
}
