package resolver

import (
	"strings"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
)

// Fixed patient-facing texts, used when the clinic has no custom
// template or the appointment details are unavailable.
const (
	msgPleaseRephrase = "Desculpe, não consegui entender sua resposta. " +
		"Por favor, responda com *sim* para confirmar ou *não* para cancelar a consulta."

	msgNoActiveConfirmation = "Olá! Não encontrei nenhuma consulta aguardando " +
		"confirmação para este número. Em caso de dúvida, entre em contato com a clínica."

	msgApology = "Desculpe, tivemos um problema ao registrar sua resposta. " +
		"Por favor, tente novamente em alguns instantes."

	msgConfirmedFallback = "Sua consulta foi confirmada. Obrigado!"
	msgCancelledFallback = "Sua consulta foi cancelada. Caso queira reagendar, " +
		"entre em contato com a clínica."
)

// renderTemplate substitutes {placeholder} tokens in a clinic template.
// Unknown placeholders are left intact so content problems stay visible.
func renderTemplate(tpl string, details *agenda.AppointmentDetails) string {
	if details == nil {
		return tpl
	}
	replacer := strings.NewReplacer(
		"{patientName}", details.PatientName,
		"{professionalName}", details.ProfessionalName,
		"{clinicName}", details.ClinicName,
		"{date}", details.StartsAt.Format("02/01/2006"),
		"{time}", details.StartsAt.Format("15:04"),
	)
	return replacer.Replace(tpl)
}

func renderConfirmed(details *agenda.AppointmentDetails) string {
	if details == nil {
		return msgConfirmedFallback
	}
	var b strings.Builder
	b.WriteString("✅ Consulta confirmada")
	if details.PatientName != "" {
		b.WriteString(" para ")
		b.WriteString(details.PatientName)
	}
	b.WriteString(" em ")
	b.WriteString(details.StartsAt.Format("02/01/2006"))
	b.WriteString(" às ")
	b.WriteString(details.StartsAt.Format("15:04"))
	if details.ProfessionalName != "" {
		b.WriteString(" com ")
		b.WriteString(details.ProfessionalName)
	}
	b.WriteString(". Obrigado!")
	return b.String()
}

func renderCancelled(details *agenda.AppointmentDetails) string {
	if details == nil {
		return msgCancelledFallback
	}
	var b strings.Builder
	b.WriteString("Sua consulta de ")
	b.WriteString(details.StartsAt.Format("02/01/2006"))
	b.WriteString(" às ")
	b.WriteString(details.StartsAt.Format("15:04"))
	b.WriteString(" foi cancelada. Caso queira reagendar, entre em contato com a clínica.")
	return b.String()
}

// renderFollowUp prompts about another still-pending appointment right
// after one was resolved in the same conversation.
func renderFollowUp(details *agenda.AppointmentDetails) string {
	var b strings.Builder
	b.WriteString("Você também possui uma consulta")
	if details.PatientName != "" {
		b.WriteString(" para ")
		b.WriteString(details.PatientName)
	}
	b.WriteString(" em ")
	b.WriteString(details.StartsAt.Format("02/01/2006"))
	b.WriteString(" às ")
	b.WriteString(details.StartsAt.Format("15:04"))
	if details.ProfessionalName != "" {
		b.WriteString(" com ")
		b.WriteString(details.ProfessionalName)
	}
	b.WriteString(" aguardando confirmação. Deseja confirmar? Responda *sim* ou *não*.")
	return b.String()
}
