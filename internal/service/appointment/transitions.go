package appointment

import "github.com/nutricoach/scheduling-api/internal/model"

// CanSetStatus is the role table for status changes. It does not look at the
// current status; terminal states are rejected before it is consulted.
func CanSetStatus(actor model.Identity, a *model.Appointment, target model.AppointmentStatus) bool {
	switch actor.Role {
	case model.RolePatient:
		return a.PatientID == actor.CallerID && patientMaySet(target)
	case model.RoleNutritionist:
		return a.NutritionistID == actor.CallerID && nutritionistMaySet(target)
	case model.RoleAdmin:
		return target.Valid()
	default:
		return false
	}
}

func patientMaySet(target model.AppointmentStatus) bool {
	switch target {
	case model.StatusCancelledByPatient, model.StatusRescheduled:
		return true
	case model.StatusScheduled, model.StatusCompleted, model.StatusCancelledByNutritionist, model.StatusNoShow:
		return false
	default:
		return false
	}
}

func nutritionistMaySet(target model.AppointmentStatus) bool {
	switch target {
	case model.StatusScheduled, model.StatusCompleted, model.StatusCancelledByNutritionist,
		model.StatusRescheduled, model.StatusNoShow:
		return true
	case model.StatusCancelledByPatient:
		return false
	default:
		return false
	}
}

// canView allows the two participants and admins.
func canView(actor model.Identity, a *model.Appointment) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RolePatient:
		return a.PatientID == actor.CallerID
	case model.RoleNutritionist:
		return a.NutritionistID == actor.CallerID
	default:
		return false
	}
}
