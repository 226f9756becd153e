package email

const (
	subjectNurturingDefault        = "Votre projet de formation"
	subjectAppointmentConfirmedFmt = "Votre rendez-vous du %s est confirmé"
)
