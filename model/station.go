package model

import "strings"

// Station identifies a controlled station.
type Station struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Zone string `json:"zone"`
}

// DefaultStationCode is the station selected at session start.
const DefaultStationCode = "NDLS"

var stationCatalogue = []Station{
	{Code: "NDLS", Name: "New Delhi", Zone: "NR"},
	{Code: "MMCT", Name: "Mumbai Central", Zone: "WR"},
	{Code: "HWH", Name: "Howrah Junction", Zone: "ER"},
	{Code: "MAS", Name: "Chennai Central", Zone: "SR"},
	{Code: "SBC", Name: "Bangalore City", Zone: "SWR"},
	{Code: "SC", Name: "Secunderabad Junction", Zone: "SCR"},
	{Code: "PUNE", Name: "Pune Junction", Zone: "CR"},
	{Code: "ADI", Name: "Ahmedabad Junction", Zone: "WR"},
	{Code: "JP", Name: "Jaipur Junction", Zone: "NWR"},
	{Code: "LKO", Name: "Lucknow Charbagh", Zone: "NR"},
	{Code: "PNBE", Name: "Patna Junction", Zone: "ECR"},
	{Code: "BPL", Name: "Bhopal Junction", Zone: "WCR"},
	{Code: "NGP", Name: "Nagpur Junction", Zone: "CR"},
	{Code: "VSKP", Name: "Visakhapatnam", Zone: "ECoR"},
	{Code: "BBS", Name: "Bhubaneswar", Zone: "ECoR"},
	{Code: "GHY", Name: "Guwahati", Zone: "NFR"},
}

// Stations returns the known stations in catalogue order.
func Stations() []Station {
	return append([]Station(nil), stationCatalogue...)
}

// LookupStation finds a station by code, case-insensitively.
func LookupStation(code string) (Station, bool) {
	for _, s := range stationCatalogue {
		if strings.EqualFold(s.Code, strings.TrimSpace(code)) {
			return s, true
		}
	}
	return Station{}, false
}
