package models

import (
	"time"
)

type ConversionType string

const (
	ConversionPurchase ConversionType = "purchase"
	ConversionLead     ConversionType = "lead"
	ConversionBooking  ConversionType = "booking"
	ConversionSignup   ConversionType = "signup"
	ConversionDownload ConversionType = "download"
	ConversionCustom   ConversionType = "custom"
)

type Conversion struct {
	ID          string                                    `db:"id"`
	TeamID      string                                    `db:"team_id"`
	UserID      string                                    `db:"user_id"`
	WAPhone     *string                                   `db:"wa_phone"`
	Type        ConversionType                            `db:"type"`
	Value       float64                                   `db:"value"`
	Currency    string                                    `db:"currency"`
	Timestamp   time.Time                                 `db:"timestamp"`
	Touchpoints []Touchpoint                              `db:"touchpoints"`
	Attribution map[AttributionModel][]AttributionCredit `db:"attribution"`
	Metadata    map[string]interface{}                    `db:"metadata"`
}
