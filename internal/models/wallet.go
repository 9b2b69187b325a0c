package models

type Wallet struct {
	UserID       string `json:"user_id" redis:"user_id"`
	Balance      int64  `json:"balance" redis:"balance"`
	TotalWagered int64  `json:"total_wagered" redis:"total_wagered"`
	TotalWon     int64  `json:"total_won" redis:"total_won"`
}

type BalanceResponse struct {
	Balance      string `json:"balance"`
	TotalWagered string `json:"total_wagered"`
	TotalWon     string `json:"total_won"`
}

func (w *Wallet) Response() BalanceResponse {
	return BalanceResponse{
		Balance:      FormatAmount(w.Balance),
		TotalWagered: FormatAmount(w.TotalWagered),
		TotalWon:     FormatAmount(w.TotalWon),
	}
}
