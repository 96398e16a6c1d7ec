package mapper

// Scale operations. Only these four exist: raw telemetry is either already in
// canonical units, scaled by ten or a hundred, or an enumerated status code.
type scaleOp int

const (
	opIdentity scaleOp = iota
	opDiv10
	opDiv100
	opEnum
)

// fieldRule maps one raw transport field to a canonical sensor key.
type fieldRule struct {
	Key  string
	Op   scaleOp
	Enum map[int]string
}

var inverterStatus = map[int]string{
	0:  "Standby",
	1:  "Fault",
	2:  "Programming",
	4:  "PV On-grid",
	8:  "PV Charging",
	12: "PV Charging On-grid",
	16: "Battery On-grid",
	20: "PV & Battery On-grid",
	32: "AC Charging",
	40: "PV & AC Charging",
	64: "Battery Off-grid",
	80: "PV & Battery Off-grid",
}

var smartPortStatus = map[int]string{
	0: "Unused",
	1: "Smart Load",
	2: "AC Couple",
	3: "Generator",
}

// cloud API runtime payload, field names as the portal returns them
func httpRuntimeRules() map[string]fieldRule {
	return map[string]fieldRule{
		"status":    {Key: "status", Op: opEnum, Enum: inverterStatus},
		"fwCode":    {Key: "firmware_version", Op: opIdentity},
		"vacr":      {Key: "ac_voltage", Op: opDiv10},
		"vacs":      {Key: "ac_voltage_l2", Op: opDiv10},
		"vact":      {Key: "ac_voltage_l3", Op: opDiv10},
		"frequency": {Key: "frequency", Op: opDiv100},
		"vpv1":      {Key: "pv1_voltage", Op: opDiv10},
		"vpv2":      {Key: "pv2_voltage", Op: opDiv10},
		"vpv3":      {Key: "pv3_voltage", Op: opDiv10},
		"ppv1":      {Key: "pv1_power", Op: opIdentity},
		"ppv2":      {Key: "pv2_power", Op: opIdentity},
		"ppv3":      {Key: "pv3_power", Op: opIdentity},
		"ppv":       {Key: "pv_power", Op: opIdentity},
		"pCharge":   {Key: "battery_charge_power", Op: opIdentity},
		"pDisCharge": {
			Key: "battery_discharge_power", Op: opIdentity,
		},
		"soc":       {Key: "battery_soc", Op: opIdentity},
		"vBat":      {Key: "battery_voltage", Op: opDiv10},
		"pToGrid":   {Key: "grid_export_power", Op: opIdentity},
		"pToUser":   {Key: "grid_import_power", Op: opIdentity},
		"pLoad":     {Key: "load_power", Op: opIdentity},
		"pEps":      {Key: "eps_power", Op: opIdentity},
		"pEpsL1N":   {Key: "eps_power_l1", Op: opIdentity},
		"pEpsL2N":   {Key: "eps_power_l2", Op: opIdentity},
		"tinner":    {Key: "internal_temperature", Op: opIdentity},
		"tradiator": {Key: "radiator_temperature", Op: opIdentity},
	}
}

// cloud API energy payload; cumulative counters arrive in 0.1 kWh
func httpEnergyRules() map[string]fieldRule {
	return map[string]fieldRule{
		"epvDay":     {Key: "pv_energy_today", Op: opDiv10},
		"epvAll":     {Key: "pv_energy_total", Op: opDiv10},
		"eChgDay":    {Key: "battery_charge_today", Op: opDiv10},
		"eChgAll":    {Key: "battery_charge_total", Op: opDiv10},
		"eDisChgDay": {Key: "battery_discharge_today", Op: opDiv10},
		"eDisChgAll": {Key: "battery_discharge_total", Op: opDiv10},
		"eToGridDay": {Key: "grid_export_today", Op: opDiv10},
		"eToGridAll": {Key: "grid_export_total", Op: opDiv10},
		"eToUserDay": {Key: "grid_import_today", Op: opDiv10},
		"eToUserAll": {Key: "grid_import_total", Op: opDiv10},
		"eEpsDay":    {Key: "eps_energy_today", Op: opDiv10},
		"eEpsAll":    {Key: "eps_energy_total", Op: opDiv10},
	}
}

// cloud API midbox payload for the grid-interface controller
func httpMidboxRules() map[string]fieldRule {
	return map[string]fieldRule{
		"fwCode":           {Key: "firmware_version", Op: opIdentity},
		"gridPower":        {Key: "grid_power", Op: opIdentity},
		"gridPowerL1":      {Key: "grid_power_l1", Op: opIdentity},
		"gridPowerL2":      {Key: "grid_power_l2", Op: opIdentity},
		"upsPower":         {Key: "ups_power", Op: opIdentity},
		"loadPower":        {Key: "load_power", Op: opIdentity},
		"loadPowerL1":      {Key: "load_power_l1", Op: opIdentity},
		"loadPowerL2":      {Key: "load_power_l2", Op: opIdentity},
		"genPower":         {Key: "generator_power", Op: opIdentity},
		"gridVoltL1":       {Key: "grid_voltage_l1", Op: opDiv10},
		"gridVoltL2":       {Key: "grid_voltage_l2", Op: opDiv10},
		"genVolt":          {Key: "generator_voltage", Op: opDiv10},
		"gridFreq":         {Key: "grid_frequency", Op: opDiv100},
		"smartPort1Status": {Key: "smart_port_1_status", Op: opEnum, Enum: smartPortStatus},
		"smartPort2Status": {Key: "smart_port_2_status", Op: opEnum, Enum: smartPortStatus},
		"smartPort3Status": {Key: "smart_port_3_status", Op: opEnum, Enum: smartPortStatus},
		"smartPort4Status": {Key: "smart_port_4_status", Op: opEnum, Enum: smartPortStatus},
		"eLoadDay":         {Key: "load_energy_today", Op: opDiv10},
		"eLoadAll":         {Key: "load_energy_total", Op: opDiv10},
		"eGenDay":          {Key: "generator_energy_today", Op: opDiv10},
		"eGenAll":          {Key: "generator_energy_total", Op: opDiv10},
	}
}

// modbus register map, names mirror the register documentation
func modbusRules() map[string]fieldRule {
	return map[string]fieldRule{
		"state":        {Key: "status", Op: opEnum, Enum: inverterStatus},
		"fw_code":      {Key: "firmware_version", Op: opIdentity},
		"v_ac_r":       {Key: "ac_voltage", Op: opDiv10},
		"v_ac_s":       {Key: "ac_voltage_l2", Op: opDiv10},
		"v_ac_t":       {Key: "ac_voltage_l3", Op: opDiv10},
		"f_ac":         {Key: "frequency", Op: opDiv100},
		"v_pv_1":       {Key: "pv1_voltage", Op: opDiv10},
		"v_pv_2":       {Key: "pv2_voltage", Op: opDiv10},
		"v_pv_3":       {Key: "pv3_voltage", Op: opDiv10},
		"p_pv_1":       {Key: "pv1_power", Op: opIdentity},
		"p_pv_2":       {Key: "pv2_power", Op: opIdentity},
		"p_pv_3":       {Key: "pv3_power", Op: opIdentity},
		"p_pv":         {Key: "pv_power", Op: opIdentity},
		"p_charge":     {Key: "battery_charge_power", Op: opIdentity},
		"p_discharge":  {Key: "battery_discharge_power", Op: opIdentity},
		"soc":          {Key: "battery_soc", Op: opIdentity},
		"v_bat":        {Key: "battery_voltage", Op: opDiv10},
		"p_to_grid":    {Key: "grid_export_power", Op: opIdentity},
		"p_to_user":    {Key: "grid_import_power", Op: opIdentity},
		"p_load":       {Key: "load_power", Op: opIdentity},
		"p_eps":        {Key: "eps_power", Op: opIdentity},
		"t_inner":      {Key: "internal_temperature", Op: opIdentity},
		"t_radiator":   {Key: "radiator_temperature", Op: opIdentity},
		"e_pv_day":     {Key: "pv_energy_today", Op: opDiv10},
		"e_pv_all":     {Key: "pv_energy_total", Op: opDiv10},
		"e_chg_day":    {Key: "battery_charge_today", Op: opDiv10},
		"e_chg_all":    {Key: "battery_charge_total", Op: opDiv10},
		"e_dischg_day": {Key: "battery_discharge_today", Op: opDiv10},
		"e_dischg_all": {Key: "battery_discharge_total", Op: opDiv10},
		"e_to_grid_day": {
			Key: "grid_export_today", Op: opDiv10,
		},
		"e_to_grid_all": {Key: "grid_export_total", Op: opDiv10},
		"e_to_user_day": {Key: "grid_import_today", Op: opDiv10},
		"e_to_user_all": {Key: "grid_import_total", Op: opDiv10},
	}
}

// dongle protocol payload
func dongleRules() map[string]fieldRule {
	return map[string]fieldRule{
		"deviceStatus": {Key: "status", Op: opEnum, Enum: inverterStatus},
		"fwVersion":    {Key: "firmware_version", Op: opIdentity},
		"gridVolt":     {Key: "ac_voltage", Op: opDiv10},
		"gridFreq":     {Key: "frequency", Op: opDiv100},
		"pvVolt1":      {Key: "pv1_voltage", Op: opDiv10},
		"pvVolt2":      {Key: "pv2_voltage", Op: opDiv10},
		"pvPower":      {Key: "pv_power", Op: opIdentity},
		"chgPower":     {Key: "battery_charge_power", Op: opIdentity},
		"dischgPower":  {Key: "battery_discharge_power", Op: opIdentity},
		"batSoc":       {Key: "battery_soc", Op: opIdentity},
		"batVolt":      {Key: "battery_voltage", Op: opDiv10},
		"toGridPower":  {Key: "grid_export_power", Op: opIdentity},
		"toUserPower":  {Key: "grid_import_power", Op: opIdentity},
		"loadPower":    {Key: "load_power", Op: opIdentity},
		"dayEnergy":    {Key: "pv_energy_today", Op: opDiv10},
		"totalEnergy":  {Key: "pv_energy_total", Op: opDiv10},
	}
}

// per-battery sub-payload, shared across transports
func batteryRules() map[string]fieldRule {
	return map[string]fieldRule{
		"totalVoltage": {Key: "voltage", Op: opDiv100},
		"current":      {Key: "current", Op: opDiv100},
		"soc":          {Key: "soc", Op: opIdentity},
		"soh":          {Key: "soh", Op: opIdentity},
		"cycleCnt":     {Key: "cycle_count", Op: opIdentity},
		"batMaxCellTemp": {
			Key: "max_cell_temperature", Op: opDiv10,
		},
		"batMinCellTemp": {Key: "min_cell_temperature", Op: opDiv10},
		"batMaxCellVolt": {Key: "max_cell_voltage", Op: opDiv100},
		"batMinCellVolt": {Key: "min_cell_voltage", Op: opDiv100},
		"capacity":       {Key: "capacity", Op: opDiv10},
	}
}

// cloud API plant metadata
func stationRules() map[string]fieldRule {
	return map[string]fieldRule{
		"name":            {Key: "name", Op: opIdentity},
		"country":         {Key: "country", Op: opIdentity},
		"timezone":        {Key: "timezone", Op: opIdentity},
		"address":         {Key: "address", Op: opIdentity},
		"apiRequestRate":  {Key: "api_request_rate", Op: opIdentity},
		"apiRequestToday": {Key: "api_requests_today", Op: opIdentity},
	}
}
