package protocol

// Voice-assistant conversation webhook model (request/response channel).
//
// Optional scalar fields are pointers so merges can tell "unset" from "empty".

// AssistantRequest is the inbound conversation webhook body.
type AssistantRequest struct {
	User         AssistantUser         `json:"user"`
	Conversation AssistantConversation `json:"conversation"`
	Inputs       []AssistantInput      `json:"inputs"`
	IsInSandbox  bool                  `json:"isInSandbox,omitempty"`
}

type AssistantUser struct {
	UserID  string            `json:"userId"`
	Locale  string            `json:"locale,omitempty"`
	Profile *AssistantProfile `json:"profile,omitempty"`
}

type AssistantProfile struct {
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
}

type AssistantConversation struct {
	ConversationID    string `json:"conversationId"`
	Type              string `json:"type,omitempty"`
	ConversationToken string `json:"conversationToken,omitempty"`
}

type AssistantInput struct {
	Intent    string              `json:"intent"`
	RawInputs []AssistantRawInput `json:"rawInputs,omitempty"`
	Arguments []AssistantArgument `json:"arguments,omitempty"`
}

type AssistantRawInput struct {
	InputType string `json:"inputType,omitempty"`
	Query     string `json:"query"`
}

type AssistantArgument struct {
	Name      string `json:"name"`
	RawText   string `json:"rawText,omitempty"`
	TextValue string `json:"textValue,omitempty"`
}

// Response is the synthesized reply for one turn.
type Response struct {
	ConversationToken  string            `json:"conversationToken"`
	ExpectUserResponse bool              `json:"expectUserResponse"`
	ExpectedInputs     []ExpectedInput   `json:"expectedInputs,omitempty"`
	FinalResponse      *FinalResponse    `json:"finalResponse,omitempty"`
	ResponseMetadata   *ResponseMetadata `json:"responseMetadata,omitempty"`
	IsInSandbox        bool              `json:"isInSandbox"`
}

// ExpectedInput is a continuation: the assistant keeps the microphone open.
type ExpectedInput struct {
	InputPrompt     InputPrompt      `json:"inputPrompt"`
	PossibleIntents []ExpectedIntent `json:"possibleIntents"`
}

type InputPrompt struct {
	RichInitialPrompt RichResponse `json:"richInitialPrompt"`
}

type ExpectedIntent struct {
	Intent string `json:"intent"`
}

// FinalResponse ends the conversation.
type FinalResponse struct {
	RichResponse RichResponse `json:"richResponse"`
}

// RichResponse is an ordered list of display items. The first item must be a simple response.
type RichResponse struct {
	Items             []Item             `json:"items"`
	Suggestions       []Suggestion       `json:"suggestions,omitempty"`
	LinkOutSuggestion *LinkOutSuggestion `json:"linkOutSuggestion,omitempty"`
}

type Item struct {
	SimpleResponse *SimpleResponse `json:"simpleResponse,omitempty"`
	BasicCard      *BasicCard      `json:"basicCard,omitempty"`
}

type SimpleResponse struct {
	TextToSpeech *string `json:"textToSpeech,omitempty"`
	SSML         *string `json:"ssml,omitempty"`
	DisplayText  *string `json:"displayText,omitempty"`
}

type BasicCard struct {
	Title         *string  `json:"title,omitempty"`
	Subtitle      *string  `json:"subtitle,omitempty"`
	FormattedText *string  `json:"formattedText,omitempty"`
	Image         *Image   `json:"image,omitempty"`
	Buttons       []Button `json:"buttons,omitempty"`
}

type Image struct {
	URL               string `json:"url"`
	AccessibilityText string `json:"accessibilityText"`
}

type Button struct {
	Title         string        `json:"title"`
	OpenURLAction OpenURLAction `json:"openUrlAction"`
}

type OpenURLAction struct {
	URL string `json:"url"`
}

type Suggestion struct {
	Title string `json:"title"`
}

type LinkOutSuggestion struct {
	DestinationName string `json:"destinationName"`
	URL             string `json:"url"`
}

// ResponseMetadata carries an error status for technical failures.
type ResponseMetadata struct {
	Status Status `json:"status"`
}

type Status struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details []StatusDetail `json:"details,omitempty"`
}

type StatusDetail struct {
	Error       string            `json:"error,omitempty"`
	RequestBody string            `json:"requestBody,omitempty"`
	Request     *AssistantRequest `json:"request,omitempty"`
}

// ConnectorMessage is the structured payload an action carries for the assistant channel.
// At most one of FinalResponse and ExpectedInput is expected to be set.
type ConnectorMessage struct {
	FinalResponse *FinalResponse `json:"finalResponse,omitempty"`
	ExpectedInput *ExpectedInput `json:"expectedInput,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
