package model

const (
	MailSubjectSuccess = "Successful CSV Processing"
	MailSubjectFailure = "CSV Processing Failed"

	mailBodySuccess = "Your CSV file has been processed successfully and its transactions are now available."
	mailBodyFailure = "We could not process your CSV file. Please check the file and try again."
)

type Mail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewSuccessMail(from, to string) Mail {
	return Mail{From: from, To: to, Subject: MailSubjectSuccess, Body: mailBodySuccess}
}

func NewFailureMail(from, to string) Mail {
	return Mail{From: from, To: to, Subject: MailSubjectFailure, Body: mailBodyFailure}
}

// ValidEmail reports whether s is a usable recipient address.
func ValidEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}
