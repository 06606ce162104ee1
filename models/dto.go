package models

type GenerateOutfitsOut struct {
	UploadedFiles    []string     `json:"uploadedFiles"`
	OutfitData       *OutfitBatch `json:"outfitData"`
	GPTGeneratedText string       `json:"gptGeneratedText"`
	AnalysisHandle   string       `json:"analysisHandle,omitempty"`
}

type GenerateOutfitImageIn struct {
	RawResponse    string `json:"rawResponse"`
	AnalysisHandle string `json:"analysisHandle"`
}

type RenderErrorOut struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type GenerateOutfitImageOut struct {
	OutfitImages []string         `json:"outfitImages"`
	Errors       []RenderErrorOut `json:"errors,omitempty"`
}

type CreatePaymentIntentIn struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	PlanID string `json:"planId" validate:"required,plan"`
}

type CreatePaymentIntentOut struct {
	ClientSecret string `json:"clientSecret"`
}

type SubscriptionStatusOut struct {
	SubscriptionTier      SubscriptionTier `json:"subscriptionTier"`
	DailyTextGenerations  int              `json:"dailyTextGenerations"`
	DailyImageGenerations int              `json:"dailyImageGenerations"`
	LastReset             string           `json:"lastReset"`
	Limits                Allotment        `json:"limits"`
	SubscriptionStatus    string           `json:"subscriptionStatus,omitempty"`
}

type AdminUsageUpdateIn struct {
	SubscriptionTier      string `json:"subscriptionTier" validate:"omitempty,tier"`
	DailyTextGenerations  *int   `json:"dailyTextGenerations" validate:"omitempty,gte=0"`
	DailyImageGenerations *int   `json:"dailyImageGenerations" validate:"omitempty,gte=0"`
}
