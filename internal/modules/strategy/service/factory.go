package service

func NewIndicator() Indicator {
	return NewConfluence()
}
